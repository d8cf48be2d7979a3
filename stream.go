// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/adler32"
	"io"
)

// noSector marks a File with no sector cached.
const noSector = -1

// File is an open file inside an archive. It decrypts and decompresses one
// sector at a time as reads reach it, keeping only the latest sector in memory.
//
// Read and Seek must not be used from more than one goroutine at a time.
// ReadAt may run in parallel with itself, and any number of Files may be open
// on the same Archive concurrently.
type File struct {
	archive    *Archive
	block      BlockEntry
	name       string
	key        uint32
	sectorSize uint32

	pos   int64
	index int64
	data  []byte

	offsets   []uint32 // sector offset table, compressed multi-sector files only
	checksums []uint32 // Adler-32 per sector, only with WithSectorChecksums

	closed bool
}

// newFile prepares a stream over block. The encryption key is derived from
// name and kept on the stream; block itself is never modified.
func newFile(a *Archive, block BlockEntry, name string) (*File, error) {
	f := &File{
		archive:    a,
		block:      block,
		name:       name,
		sectorSize: a.header.SectorSize(),
		index:      noSector,
	}

	if block.HasFlag(FileEncrypted | FileFixKey) {
		f.key = getFileKey(name, block.FilePos, block.FileSize, block.Flags)
	}

	if block.HasFlag(FilePatchFile) {
		return nil, fmt.Errorf("%w: patch file %s", ErrUnsupported, name)
	}

	if block.IsCompressed() && !block.HasFlag(FileSingleUnit) {
		if err := f.loadSectorTable(); err != nil {
			return nil, err
		}
	}

	a.logger.Debug("opened file",
		"name", name,
		"flags", fmt.Sprintf("0x%08X", block.Flags),
		"file_size", block.FileSize,
		"compressed_size", block.CompressedSize,
		"sectors", f.sectorCount(),
	)

	return f, nil
}

// Name returns the name the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Size returns the uncompressed size of the file.
func (f *File) Size() int64 {
	return int64(f.block.FileSize)
}

func (f *File) sectorCount() uint32 {
	return uint32((uint64(f.block.FileSize) + uint64(f.sectorSize) - 1) / uint64(f.sectorSize))
}

// loadSectorTable reads the table of sector offsets stored in front of the
// data of a compressed, multi-sector file. Files carrying sector checksums
// have one more entry, pointing past the checksum block.
func (f *File) loadSectorTable() error {
	sectors := f.sectorCount()
	count := sectors + 1
	if f.block.HasFlag(FileSectorCRC) {
		count++
	}
	tableBytes := count * 4

	raw := make([]byte, tableBytes)
	if err := f.readAt(raw, int64(f.block.FilePos)); err != nil {
		return fmt.Errorf("read sector table: %w", err)
	}

	offsets := make([]uint32, count)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}

	// A decrypted table must describe itself; anything else means a wrong key.
	// Bad offsets in plain tables surface when the sector is read.
	if f.block.HasFlag(FileEncrypted) {
		DecryptBlock(offsets, f.key-1)
		if offsets[0] != tableBytes || (count > 1 && uint64(offsets[1]) > uint64(f.sectorSize)+uint64(tableBytes)) {
			return fmt.Errorf("%w: sector table of %s does not validate (wrong key?)", ErrDecryption, f.name)
		}
	}
	f.offsets = offsets

	if f.archive.opts.sectorChecksums && f.block.HasFlag(FileSectorCRC) {
		return f.loadChecksums(sectors)
	}
	return nil
}

// loadChecksums reads the Adler-32 block that follows the last sector.
// A checksum block stored compressed is not verified.
func (f *File) loadChecksums(sectors uint32) error {
	start, end := f.offsets[sectors], f.offsets[sectors+1]
	if end < start || end-start != sectors*4 {
		f.archive.logger.Debug("sector checksums not verifiable",
			"name", f.name,
			"size", int64(end)-int64(start),
		)
		return nil
	}

	raw := make([]byte, end-start)
	if err := f.readAt(raw, int64(f.block.FilePos)+int64(start)); err != nil {
		return fmt.Errorf("read sector checksums: %w", err)
	}

	f.checksums = make([]uint32, sectors)
	for i := range f.checksums {
		f.checksums[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return nil
}

// Read reads up to len(p) bytes at the current position. At the end of the
// file it returns 0, io.EOF.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if f.block.HasFlag(FileSingleUnit) {
		if err := f.loadSingleUnit(); err != nil {
			return 0, err
		}
		n := f.copyOut(p, f.pos)
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}

	copied := 0
	for copied < len(p) {
		if f.pos < 0 || f.pos >= int64(f.block.FileSize) {
			break
		}
		if err := f.cacheSector(f.pos / int64(f.sectorSize)); err != nil {
			return copied, err
		}
		n := f.copyOut(p[copied:], f.pos%int64(f.sectorSize))
		if n == 0 {
			break
		}
		copied += n
	}

	if copied == 0 {
		return 0, io.EOF
	}
	return copied, nil
}

// ReadAt reads len(p) bytes starting at off. It decodes what it needs on its
// own, leaving the position and the sector cached by Read untouched, so
// parallel ReadAt calls on one File are safe.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("read at negative offset %d", off)
	}
	if off >= f.Size() {
		return 0, io.EOF
	}

	want := min(int64(len(p)), f.Size()-off)
	n := 0

	if f.block.HasFlag(FileSingleUnit) {
		data, err := f.decodeSingleUnit()
		if err != nil {
			return 0, err
		}
		if off < int64(len(data)) {
			n = copy(p[:want], data[off:])
		}
	} else {
		for int64(n) < want {
			pos := off + int64(n)
			data, err := f.loadSector(uint32(pos / int64(f.sectorSize)))
			if err != nil {
				return n, err
			}
			local := pos % int64(f.sectorSize)
			if local >= int64(len(data)) {
				break
			}
			n += copy(p[n:want], data[local:])
		}
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek sets the position for the next Read. With io.SeekEnd the new position
// is Size() minus offset, so a positive offset moves back from the end.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrClosed
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.Size() - offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}

	if pos < 0 {
		return 0, fmt.Errorf("negative position: %d", pos)
	}
	f.pos = pos
	return pos, nil
}

// Close releases the cached sector. It does not affect the archive or other
// open files.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.data = nil
	f.offsets = nil
	f.checksums = nil
	return nil
}

// copyOut copies cached bytes starting at local into p and advances the
// position. It returns 0 when nothing is left in the cached data.
func (f *File) copyOut(p []byte, local int64) int {
	avail := min(int64(len(f.data))-local, int64(len(p)))
	if avail <= 0 {
		return 0
	}
	copy(p, f.data[local:local+avail])
	f.pos += avail
	return int(avail)
}

// loadSingleUnit decodes a single-unit file once and caches it for Read.
func (f *File) loadSingleUnit() error {
	if f.data != nil {
		return nil
	}

	data, err := f.decodeSingleUnit()
	if err != nil {
		return err
	}
	f.data = data
	return nil
}

// decodeSingleUnit reads, decrypts and decompresses a single-unit file.
func (f *File) decodeSingleUnit() ([]byte, error) {
	buf := make([]byte, f.block.CompressedSize)
	if err := f.readAt(buf, int64(f.block.FilePos)); err != nil {
		return nil, fmt.Errorf("read file data: %w", err)
	}

	if f.block.HasFlag(FileEncrypted) {
		decryptBytes(buf, f.key)
	}

	if f.block.IsCompressed() && f.block.CompressedSize != f.block.FileSize {
		out, err := f.decompress(buf, f.block.FileSize)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", f.name, err)
		}
		buf = out
	}
	return buf, nil
}

// cacheSector makes sector idx the cached one, loading it if needed.
func (f *File) cacheSector(idx int64) error {
	if idx == f.index {
		return nil
	}

	data, err := f.loadSector(uint32(idx))
	if err != nil {
		f.index = noSector
		f.data = nil
		return err
	}

	f.data = data
	f.index = idx
	return nil
}

func (f *File) loadSector(idx uint32) ([]byte, error) {
	need := min(f.block.FileSize-idx*f.sectorSize, f.sectorSize)

	var start, size uint32
	if f.block.IsCompressed() {
		if int(idx)+1 >= len(f.offsets) {
			return nil, fmt.Errorf("sector %d outside sector table of %s", idx, f.name)
		}
		start = f.offsets[idx]
		end := f.offsets[idx+1]
		if end < start || end > f.block.CompressedSize {
			return nil, fmt.Errorf("%w: sector %d of %s spans [%d, %d)", ErrFormat, idx, f.name, start, end)
		}
		size = end - start
	} else {
		start = idx * f.sectorSize
		size = need
	}

	buf := make([]byte, size)
	if err := f.readAt(buf, int64(f.block.FilePos)+int64(start)); err != nil {
		return nil, fmt.Errorf("read sector %d: %w", idx, err)
	}

	if f.block.HasFlag(FileEncrypted) && f.block.FileSize > 3 {
		decryptBytes(buf, f.key+idx)
	}

	if f.checksums != nil {
		if err := f.verifySector(idx, buf); err != nil {
			return nil, err
		}
	}

	if f.block.IsCompressed() && size != need {
		out, err := f.decompress(buf, need)
		if err != nil {
			return nil, fmt.Errorf("decompress sector %d of %s: %w", idx, f.name, err)
		}
		return out, nil
	}
	return buf, nil
}

// verifySector checks raw sector data against the stored Adler-32.
// A stored value of zero means no checksum was recorded.
func (f *File) verifySector(idx uint32, raw []byte) error {
	want := f.checksums[idx]
	if want == 0 {
		return nil
	}
	if got := adler32.Checksum(raw); got != want {
		return fmt.Errorf("%w: sector %d of %s: got 0x%08X, want 0x%08X", ErrChecksum, idx, f.name, got, want)
	}
	return nil
}

// decompress picks the decoder for the stored data. Imploded files carry raw
// PKWARE data without a compression tag.
func (f *File) decompress(data []byte, size uint32) ([]byte, error) {
	if !f.block.HasFlag(FileCompress) && f.block.HasFlag(FileImplode) {
		return explode(data, size)
	}
	return decompressData(data, size)
}

// readAt fills p from the archive source at the absolute offset off.
func (f *File) readAt(p []byte, off int64) error {
	if f.archive.isClosed() {
		return ErrClosed
	}
	n, err := f.archive.src.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return err
}
