// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/adler32"
	"os"
	"path/filepath"
	"testing"
)

const (
	hashTableEmpty = 0xFFFFFFFF

	testSectorShift = 0 // 512-byte sectors keep multi-sector fixtures small
)

// testFile describes one file written by archiveBuilder.
type testFile struct {
	name  string
	data  []byte
	flags uint32

	// compress returns the stored form of one sector or blob, tag byte
	// included. Defaults to zlib when FileCompress is set.
	compress func([]byte) []byte
}

// archiveBuilder writes small in-memory archives for tests.
type archiveBuilder struct {
	sectorShift uint16
	files       []testFile

	// listfile, when non-nil, is stored verbatim as (listfile).
	listfile []byte

	// dangling names get hash entries pointing past the block table.
	dangling []string

	// duplicates add a second hash entry for a name, pointing at the given
	// block index.
	duplicates map[string]uint32
}

func newArchiveBuilder() *archiveBuilder {
	return &archiveBuilder{sectorShift: testSectorShift}
}

func (b *archiveBuilder) add(name string, data []byte, flags uint32) *archiveBuilder {
	b.files = append(b.files, testFile{name: name, data: data, flags: flags | FileExists})
	return b
}

func (b *archiveBuilder) addWith(f testFile) *archiveBuilder {
	f.flags |= FileExists
	b.files = append(b.files, f)
	return b
}

func (b *archiveBuilder) sectorSize() uint32 {
	return 512 << b.sectorShift
}

// build lays out header, file data, hash table and block table.
func (b *archiveBuilder) build(t *testing.T) []byte {
	t.Helper()

	files := b.files
	if b.listfile != nil {
		files = append(files[:len(files):len(files)], testFile{
			name:  listFileName,
			data:  b.listfile,
			flags: FileExists | FileSingleUnit,
		})
	}

	buf := make([]byte, headerSizeV1)
	blocks := make([]BlockEntry, 0, len(files))

	for _, f := range files {
		filePos := uint32(len(buf))
		stored := b.storeFile(f, filePos)
		buf = append(buf, stored...)
		blocks = append(blocks, BlockEntry{
			FilePos:        filePos,
			CompressedSize: uint32(len(stored)),
			FileSize:       uint32(len(f.data)),
			Flags:          f.flags,
		})
	}

	hashSize := nextPowerOf2(uint32(len(files)+len(b.dangling)+len(b.duplicates)) * 2)
	if hashSize < 16 {
		hashSize = 16
	}
	hashTable := make([]HashEntry, hashSize)
	for i := range hashTable {
		hashTable[i] = HashEntry{
			HashA:      0xFFFFFFFF,
			HashB:      0xFFFFFFFF,
			Locale:     0xFFFF,
			Platform:   0xFFFF,
			BlockIndex: hashTableEmpty,
		}
	}
	for i, f := range files {
		addToHashTable(t, hashTable, f.name, uint32(i))
	}
	for _, name := range b.dangling {
		addToHashTable(t, hashTable, name, uint32(len(blocks)+7))
	}
	for name, idx := range b.duplicates {
		addToHashTable(t, hashTable, name, idx)
	}

	hashTableOffset := uint32(len(buf))
	buf = append(buf, encodeHashTable(hashTable)...)
	blockTableOffset := uint32(len(buf))
	buf = append(buf, encodeBlockTable(blocks)...)

	header := Header{
		HeaderSize:       headerSizeV1,
		ArchiveSize:      uint32(len(buf)),
		SectorSizeShift:  b.sectorShift,
		HashTableOffset:  hashTableOffset,
		BlockTableOffset: blockTableOffset,
		HashTableSize:    hashSize,
		BlockTableSize:   uint32(len(blocks)),
	}
	binary.LittleEndian.PutUint32(header.Magic[:], mpqMagic)

	var hdr bytes.Buffer
	if err := binary.Write(&hdr, binary.LittleEndian, &header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	copy(buf, hdr.Bytes())

	return buf
}

// buildFile writes the archive to a temp file and returns its path.
func (b *archiveBuilder) buildFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mpq")
	if err := os.WriteFile(path, b.build(t), 0644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}

// open builds the archive in memory and loads it fully.
func (b *archiveBuilder) open(t *testing.T, options ...OpenOption) *Archive {
	t.Helper()
	a, err := OpenSource(NopSource(bytes.NewReader(b.build(t))), options...)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func (b *archiveBuilder) storeFile(f testFile, filePos uint32) []byte {
	key := getFileKey(f.name, filePos, uint32(len(f.data)), f.flags)
	encrypted := f.flags&FileEncrypted != 0
	compressed := f.flags&(FileCompress|FileImplode) != 0
	pack := f.compress
	if pack == nil {
		pack = zlibPayload
	}

	if f.flags&FileSingleUnit != 0 {
		out := append([]byte(nil), f.data...)
		if compressed {
			if c := pack(f.data); len(c) < len(f.data) {
				out = c
			}
		}
		if encrypted {
			encryptBytes(out, key)
		}
		return out
	}

	size := b.sectorSize()
	var sectors [][]byte
	for start := 0; start < len(f.data); start += int(size) {
		end := min(start+int(size), len(f.data))
		sectors = append(sectors, f.data[start:end])
	}

	if !compressed {
		out := make([]byte, 0, len(f.data))
		for i, s := range sectors {
			s = append([]byte(nil), s...)
			if encrypted {
				encryptBytes(s, key+uint32(i))
			}
			out = append(out, s...)
		}
		return out
	}

	count := len(sectors) + 1
	withCRC := f.flags&FileSectorCRC != 0
	if withCRC {
		count++
	}

	offsets := make([]uint32, count)
	body := []byte{}
	crcs := make([]byte, 0, len(sectors)*4)
	pos := uint32(count * 4)
	for i, s := range sectors {
		stored := append([]byte(nil), s...)
		if c := pack(s); len(c) < len(s) {
			stored = c
		}
		crcs = binary.LittleEndian.AppendUint32(crcs, adler32.Checksum(stored))
		if encrypted {
			encryptBytes(stored, key+uint32(i))
		}
		offsets[i] = pos
		pos += uint32(len(stored))
		body = append(body, stored...)
	}
	offsets[len(sectors)] = pos
	if withCRC {
		body = append(body, crcs...)
		pos += uint32(len(crcs))
		offsets[len(sectors)+1] = pos
	}

	if encrypted {
		EncryptBlock(offsets, key-1)
	}

	table := make([]byte, 0, count*4)
	for _, o := range offsets {
		table = binary.LittleEndian.AppendUint32(table, o)
	}
	return append(table, body...)
}

// addToHashTable adds a file to the hash table
func addToHashTable(t *testing.T, table []HashEntry, name string, blockIndex uint32) {
	t.Helper()
	size := uint32(len(table))
	startIndex := HashString(name, hashTypeTableOffset) % size

	for i := uint32(0); i < size; i++ {
		entry := &table[(startIndex+i)%size]
		if entry.BlockIndex == hashTableEmpty {
			entry.HashA = HashString(name, hashTypeNameA)
			entry.HashB = HashString(name, hashTypeNameB)
			entry.Locale = 0
			entry.Platform = 0
			entry.BlockIndex = blockIndex
			return
		}
	}
	t.Fatalf("hash table full")
}

func encodeHashTable(table []HashEntry) []byte {
	words := make([]uint32, 0, len(table)*4)
	for _, e := range table {
		words = append(words, e.HashA, e.HashB, uint32(e.Locale)|uint32(e.Platform)<<16, e.BlockIndex)
	}
	EncryptBlock(words, HashString(hashTableKeyName, hashTypeFileKey))
	return wordsToBytes(words)
}

func encodeBlockTable(table []BlockEntry) []byte {
	words := make([]uint32, 0, len(table)*4)
	for _, e := range table {
		words = append(words, e.FilePos, e.CompressedSize, e.FileSize, e.Flags)
	}
	EncryptBlock(words, HashString(blockTableKeyName, hashTypeFileKey))
	return wordsToBytes(words)
}

func wordsToBytes(words []uint32) []byte {
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

// zlibPayload compresses data with zlib behind the zlib tag byte.
func zlibPayload(data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(compressionZlib)

	w, _ := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	w.Write(data)
	w.Close()

	return buf.Bytes()
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// patternData returns n bytes that compress well but are not uniform.
func patternData(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i%251) ^ byte(i/512)
	}
	return out
}
