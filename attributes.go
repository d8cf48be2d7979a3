// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	attributesVersion = 100

	attributesFlagCRC32    = 0x00000001
	attributesFlagFileTime = 0x00000002
	attributesFlagMD5      = 0x00000004
	attributesFlagPatchBit = 0x00000008
)

// Attributes holds the per-block metadata of the (attributes) special file.
// Each present slice has one element per block table entry.
type Attributes struct {
	Version  uint32
	Flags    uint32
	CRC32    []uint32
	FileTime []uint64
	MD5      [][16]byte
	PatchBit []bool
}

// ReadAttributes reads and parses the (attributes) special file.
// Returns nil if the archive has none.
func (a *Archive) ReadAttributes() (*Attributes, error) {
	if !a.HasFile(attributesName) {
		return nil, nil
	}

	data, err := a.ReadFile(attributesName)
	if err != nil {
		return nil, fmt.Errorf("read attributes: %w", err)
	}
	return parseAttributes(data, len(a.blockTable))
}

func parseAttributes(data []byte, blocks int) (*Attributes, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("attributes too small: %d bytes", len(data))
	}

	attrs := &Attributes{
		Version: binary.LittleEndian.Uint32(data[0:4]),
		Flags:   binary.LittleEndian.Uint32(data[4:8]),
	}
	if attrs.Version != attributesVersion {
		return nil, fmt.Errorf("%w: attributes version %d", ErrUnsupported, attrs.Version)
	}

	rest := data[8:]
	take := func(n int) ([]byte, error) {
		if len(rest) < n {
			return nil, fmt.Errorf("attributes truncated: need %d bytes, have %d", n, len(rest))
		}
		out := rest[:n]
		rest = rest[n:]
		return out, nil
	}

	if attrs.Flags&attributesFlagCRC32 != 0 {
		raw, err := take(blocks * 4)
		if err != nil {
			return nil, err
		}
		attrs.CRC32 = make([]uint32, blocks)
		for i := range attrs.CRC32 {
			attrs.CRC32[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
	}

	if attrs.Flags&attributesFlagFileTime != 0 {
		raw, err := take(blocks * 8)
		if err != nil {
			return nil, err
		}
		attrs.FileTime = make([]uint64, blocks)
		for i := range attrs.FileTime {
			attrs.FileTime[i] = binary.LittleEndian.Uint64(raw[i*8:])
		}
	}

	if attrs.Flags&attributesFlagMD5 != 0 {
		raw, err := take(blocks * 16)
		if err != nil {
			return nil, err
		}
		attrs.MD5 = make([][16]byte, blocks)
		for i := range attrs.MD5 {
			copy(attrs.MD5[i][:], raw[i*16:])
		}
	}

	if attrs.Flags&attributesFlagPatchBit != 0 {
		raw, err := take((blocks + 7) / 8)
		if err != nil {
			return nil, err
		}
		attrs.PatchBit = make([]bool, blocks)
		for i := range attrs.PatchBit {
			attrs.PatchBit[i] = raw[i/8]&(1<<(i%8)) != 0
		}
	}

	return attrs, nil
}

// VerifyFile compares the CRC32 of name's decoded content with the value in
// (attributes). Archives without CRC32 attributes, and entries recorded as
// zero, verify trivially.
func (a *Archive) VerifyFile(name string) error {
	attrs, err := a.ReadAttributes()
	if err != nil {
		return err
	}
	if attrs == nil || attrs.CRC32 == nil {
		return nil
	}

	idx, err := a.blockIndex(name)
	if err != nil {
		return err
	}
	want := attrs.CRC32[idx]
	if want == 0 {
		return nil
	}

	data, err := a.ReadFile(name)
	if err != nil {
		return err
	}
	if got := crc32.ChecksumIEEE(data); got != want {
		return fmt.Errorf("%w: %s: crc32 0x%08X, want 0x%08X", ErrChecksum, name, got, want)
	}
	return nil
}
