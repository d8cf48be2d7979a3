// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MPQ format constants
const (
	// Magic signature "MPQ\x1A" in little-endian
	mpqMagic = 0x1A51504D

	// Size of the fixed header record this package reads
	headerSizeV1 = 0x20

	// Largest shift whose sector size, 512 << shift, fits in a uint32
	maxSectorSizeShift = 22

	// Fixed names whose type-3 hashes key the table encryption
	hashTableKeyName  = "(hash table)"
	blockTableKeyName = "(block table)"

	// Special files
	listFileName   = "(listfile)"
	attributesName = "(attributes)"
	signatureName  = "(signature)"
)

// Block table entry flags
const (
	FileImplode      = 0x00000100 // Imploded (PKWARE compression)
	FileCompress     = 0x00000200 // Compressed (multi-algorithm)
	FileEncrypted    = 0x00010000 // Encrypted
	FileFixKey       = 0x00020000 // Key adjusted by block offset
	FilePatchFile    = 0x00100000 // Patch file
	FileSingleUnit   = 0x01000000 // Single unit (not split into sectors)
	FileDeleteMarker = 0x02000000 // File is a deletion marker
	FileSectorCRC    = 0x04000000 // Sector CRC values after data
	FileExists       = 0x80000000 // File exists
)

// Header is the fixed MPQ archive header found at offset 0.
type Header struct {
	Magic            [4]byte // "MPQ\x1A"
	HeaderSize       uint32  // Size of the header as recorded by the writer
	ArchiveSize      uint32  // Size of the entire archive
	FormatVersion    uint16  // Format version (0 = V1)
	SectorSizeShift  uint16  // Power of 2 for sector size
	HashTableOffset  uint32  // Offset to hash table
	BlockTableOffset uint32  // Offset to block table
	HashTableSize    uint32  // Number of entries in hash table
	BlockTableSize   uint32  // Number of entries in block table
}

// SectorSize returns the size in bytes of one decoded sector.
func (h Header) SectorSize() uint32 {
	return 512 << h.SectorSizeShift
}

// HashEntry is one decoded record of the hash table.
type HashEntry struct {
	HashA      uint32 // First hash of the file name
	HashB      uint32 // Second hash of the file name
	Locale     uint16 // Locale ID
	Platform   uint16 // Platform ID (0 = default)
	BlockIndex uint32 // Index into the block table
}

// Fingerprint returns the 64-bit key HashA<<32 | HashB.
func (e HashEntry) Fingerprint() uint64 {
	return uint64(e.HashA)<<32 | uint64(e.HashB)
}

// BlockEntry is one decoded record of the block table.
// Entries are shared by every stream opened on them and are never modified
// after the archive is loaded.
type BlockEntry struct {
	FilePos        uint32 // Offset of the file data, relative to the archive start
	CompressedSize uint32 // Compressed file size
	FileSize       uint32 // Uncompressed file size
	Flags          uint32 // File flags
}

// HasFlag reports whether any bit of flag is set.
func (b BlockEntry) HasFlag(flag uint32) bool {
	return b.Flags&flag != 0
}

// IsCompressed reports whether the stored data passes through a decompressor.
func (b BlockEntry) IsCompressed() bool {
	return b.HasFlag(FileCompress | FileImplode)
}

// readArchiveHeader reads and validates the header at offset 0 of r.
func readArchiveHeader(r io.ReaderAt) (*Header, error) {
	buf := make([]byte, headerSizeV1)
	n, err := r.ReadAt(buf, 0)
	if n < len(buf) {
		if err == nil || err == io.EOF {
			return nil, fmt.Errorf("%w: short header: %d of %d bytes", ErrFormat, n, len(buf))
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	h := &Header{}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	if binary.LittleEndian.Uint32(h.Magic[:]) != mpqMagic {
		return nil, fmt.Errorf("%w: invalid MPQ magic: %q", ErrFormat, h.Magic[:])
	}

	if h.SectorSizeShift > maxSectorSizeShift {
		return nil, fmt.Errorf("%w: sector size shift %d out of range", ErrFormat, h.SectorSizeShift)
	}

	return h, nil
}

// decodeHashTable turns decrypted table words into hash entries.
func decodeHashTable(words []uint32, entries uint32) ([]HashEntry, error) {
	if uint64(len(words)) < uint64(entries)*4 {
		return nil, fmt.Errorf("hash table: %d words for %d entries", len(words), entries)
	}

	table := make([]HashEntry, entries)
	for i := range table {
		rec := words[i*4 : i*4+4]
		table[i] = HashEntry{
			HashA:      rec[0],
			HashB:      rec[1],
			Locale:     uint16(rec[2] & 0xFFFF),
			Platform:   uint16(rec[2] >> 16),
			BlockIndex: rec[3],
		}
	}
	return table, nil
}

// decodeBlockTable turns decrypted table words into block entries.
func decodeBlockTable(words []uint32, entries uint32) ([]BlockEntry, error) {
	if uint64(len(words)) < uint64(entries)*4 {
		return nil, fmt.Errorf("block table: %d words for %d entries", len(words), entries)
	}

	table := make([]BlockEntry, entries)
	for i := range table {
		rec := words[i*4 : i*4+4]
		table[i] = BlockEntry{
			FilePos:        rec[0],
			CompressedSize: rec[1],
			FileSize:       rec[2],
			Flags:          rec[3],
		}
	}
	return table, nil
}

// readHashTable loads the hash table and indexes it by fingerprint.
// A later entry with the same fingerprint replaces an earlier one. Entries
// past the end of the source are dropped.
func readHashTable(r io.ReaderAt, h *Header) ([]HashEntry, map[uint64]HashEntry, error) {
	words, err := decryptTable(r, h.HashTableSize, hashTableKeyName, int64(h.HashTableOffset))
	if err != nil {
		return nil, nil, err
	}

	entries, err := decodeHashTable(words, uint32(len(words)/4))
	if err != nil {
		return nil, nil, err
	}

	index := make(map[uint64]HashEntry, len(entries))
	for _, e := range entries {
		index[e.Fingerprint()] = e
	}
	return entries, index, nil
}

// readBlockTable loads the block table. Entries past the end of the source
// are dropped.
func readBlockTable(r io.ReaderAt, h *Header) ([]BlockEntry, error) {
	words, err := decryptTable(r, h.BlockTableSize, blockTableKeyName, int64(h.BlockTableOffset))
	if err != nil {
		return nil, err
	}
	return decodeBlockTable(words, uint32(len(words)/4))
}
