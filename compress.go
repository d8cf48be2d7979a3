// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"compress/bzip2"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// Compression type constants
const (
	compressionHuffman   = 0x01 // Huffman (used on wave files only)
	compressionZlib      = 0x02 // Zlib compression
	compressionPKWare    = 0x08 // PKWare DCL compression
	compressionBzip2     = 0x10 // BZip2 compression
	compressionLZMA      = 0x12 // LZMA compression (SC2+)
	compressionSparse    = 0x20 // Sparse/RLE compression (SC2+)
	compressionADPCMMono = 0x40 // ADPCM mono audio
	compressionADPCM     = 0x80 // ADPCM stereo audio
)

// lzmaHeaderLen is the size of a classic .lzma header: properties byte,
// dictionary size and uncompressed size.
const lzmaHeaderLen = 13

// codec identifies the decompressor selected by a compression tag byte.
type codec int

const (
	codecUnsupported codec = iota
	codecInflate
	codecExplode
	codecBzip2
	codecLZMA
	codecADPCMMono
	codecADPCMStereo
)

// codecFor maps a compression tag to its codec. Tags that combine several
// algorithms, and single algorithms this package cannot decode, map to
// codecUnsupported.
func codecFor(tag byte) codec {
	switch tag {
	case compressionZlib:
		return codecInflate
	case compressionPKWare:
		return codecExplode
	case compressionBzip2:
		return codecBzip2
	case compressionLZMA:
		return codecLZMA
	case compressionADPCMMono:
		return codecADPCMMono
	case compressionADPCM:
		return codecADPCMStereo
	}
	return codecUnsupported
}

func (c codec) String() string {
	switch c {
	case codecInflate:
		return "zlib"
	case codecExplode:
		return "pkware"
	case codecBzip2:
		return "bzip2"
	case codecLZMA:
		return "lzma"
	case codecADPCMMono:
		return "adpcm-mono"
	case codecADPCMStereo:
		return "adpcm-stereo"
	}
	return "unsupported"
}

// decode runs the codec over payload, which excludes the tag byte.
func (c codec) decode(payload []byte, uncompressedSize uint32) ([]byte, error) {
	switch c {
	case codecInflate:
		return decompressZlib(payload, uncompressedSize)
	case codecExplode:
		return explode(payload, uncompressedSize)
	case codecBzip2:
		return decompressBzip2(payload, uncompressedSize)
	case codecLZMA:
		return decompressLZMA(payload, uncompressedSize)
	case codecADPCMMono:
		return decompressADPCM(payload, uncompressedSize, 1)
	case codecADPCMStereo:
		return decompressADPCM(payload, uncompressedSize, 2)
	}
	return nil, ErrUnsupported
}

// decompressData decompresses one sector or single-unit blob. The first byte
// is the compression tag; the rest is handed to the selected codec as is.
func decompressData(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty compressed data")
	}

	tag := data[0]
	c := codecFor(tag)
	if c == codecUnsupported {
		return nil, fmt.Errorf("%w: compression type 0x%02X", ErrUnsupported, tag)
	}

	out, err := c.decode(data[1:], uncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}
	return out, nil
}

// decompressZlib decompresses zlib-compressed data
func decompressZlib(data []byte, uncompressedSize uint32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zlib reader: %w", err)
	}
	defer r.Close()

	return readUpTo(r, uncompressedSize)
}

// decompressBzip2 decompresses bzip2-compressed data
func decompressBzip2(data []byte, uncompressedSize uint32) ([]byte, error) {
	return readUpTo(bzip2.NewReader(bytes.NewReader(data)), uncompressedSize)
}

// decompressLZMA decodes the MPQ flavour of LZMA: one filter byte (always
// zero) followed by a classic .lzma header and the raw stream. The recorded
// size is replaced by the size the block table expects.
func decompressLZMA(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) < 1+lzmaHeaderLen {
		return nil, fmt.Errorf("lzma header truncated: %d bytes", len(data))
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("%w: lzma filter 0x%02X", ErrUnsupported, data[0])
	}

	hdr := make([]byte, lzmaHeaderLen)
	copy(hdr, data[1:6])
	binary.LittleEndian.PutUint64(hdr[5:], uint64(uncompressedSize))

	stream := data[1+lzmaHeaderLen:]
	r, err := lzma.NewReader(io.MultiReader(bytes.NewReader(hdr), bytes.NewReader(stream)))
	if err != nil {
		return nil, fmt.Errorf("create lzma reader: %w", err)
	}
	return readUpTo(r, uncompressedSize)
}

// readUpTo reads at most size bytes from r. Running out of input early is not
// an error; the short result is returned.
func readUpTo(r io.Reader, size uint32) ([]byte, error) {
	result := make([]byte, size)
	n, err := io.ReadFull(r, result)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return result[:n], nil
}
