// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
)

// PKWARE Data Compression Library "explode" decoder.
//
// The stream starts with two bytes: 0 for raw literals or 1 for Huffman coded
// literals, and the dictionary size as a power of two (4, 5 or 6 for 1K, 2K
// and 4K). The rest is a bit stream, least significant bit first, of literals
// and length/distance pairs. Length 519 ends the stream.

const explodeMaxBits = 13

var (
	errExplodeInput    = errors.New("pkware: compressed data truncated")
	errExplodeCode     = errors.New("pkware: invalid huffman code")
	errExplodeDistance = errors.New("pkware: distance too far back")
)

// explodeHuffman is a canonical Huffman code given as the number of codes of
// each length and the symbols ordered by code.
type explodeHuffman struct {
	count  [explodeMaxBits + 1]int
	symbol []int
}

// newExplodeHuffman builds a code from the compact representation used by
// the format: each byte holds a code length in the low nibble and a repeat
// count minus one in the high nibble.
func newExplodeHuffman(rep []byte) *explodeHuffman {
	var lengths []int
	for _, b := range rep {
		for n := 0; n < int(b>>4)+1; n++ {
			lengths = append(lengths, int(b&0x0F))
		}
	}

	h := &explodeHuffman{symbol: make([]int, len(lengths))}
	for _, l := range lengths {
		h.count[l]++
	}

	var offs [explodeMaxBits + 1]int
	for l := 1; l < explodeMaxBits; l++ {
		offs[l+1] = offs[l] + h.count[l]
	}
	for sym, l := range lengths {
		if l != 0 {
			h.symbol[offs[l]] = sym
			offs[l]++
		}
	}
	return h
}

var (
	explodeLitCode = newExplodeHuffman([]byte{
		11, 124, 8, 7, 28, 7, 188, 13, 76, 4, 10, 8, 12, 10, 12, 10, 8, 23, 8,
		9, 7, 6, 7, 8, 7, 6, 55, 8, 23, 24, 12, 11, 7, 9, 11, 12, 6, 7, 22, 5,
		7, 24, 6, 11, 9, 6, 7, 22, 7, 11, 38, 7, 9, 8, 25, 11, 8, 11, 9, 12,
		8, 12, 5, 38, 5, 38, 5, 11, 7, 5, 6, 21, 6, 10, 53, 8, 7, 24, 10, 27,
		44, 253, 253, 253, 252, 252, 252, 13, 12, 45, 12, 45, 12, 61, 12, 45,
		44, 173,
	})
	explodeLenCode  = newExplodeHuffman([]byte{2, 35, 36, 53, 38, 23})
	explodeDistCode = newExplodeHuffman([]byte{2, 20, 53, 230, 247, 151, 248})

	explodeLenBase  = [16]int{3, 2, 4, 5, 6, 7, 8, 9, 10, 12, 16, 24, 40, 72, 136, 264}
	explodeLenExtra = [16]int{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
)

// explodeReader pulls bits from the compressed input, low bit first.
type explodeReader struct {
	in     []byte
	pos    int
	bitbuf uint32
	bitcnt int
}

func (r *explodeReader) bits(need int) (int, error) {
	val := r.bitbuf
	for r.bitcnt < need {
		if r.pos >= len(r.in) {
			return 0, errExplodeInput
		}
		val |= uint32(r.in[r.pos]) << r.bitcnt
		r.pos++
		r.bitcnt += 8
	}
	r.bitbuf = val >> need
	r.bitcnt -= need
	return int(val & (1<<need - 1)), nil
}

// decode reads one symbol. Codes are stored bit-inverted.
func (r *explodeReader) decode(h *explodeHuffman) (int, error) {
	code, first, index := 0, 0, 0
	for l := 1; l <= explodeMaxBits; l++ {
		bit, err := r.bits(1)
		if err != nil {
			return 0, err
		}
		code |= bit ^ 1
		count := h.count[l]
		if code < first+count {
			return h.symbol[index+code-first], nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, errExplodeCode
}

// explode decompresses PKWARE DCL data. Output stops at the end marker or
// once uncompressedSize bytes have been produced.
func explode(data []byte, uncompressedSize uint32) ([]byte, error) {
	r := &explodeReader{in: data}

	lit, err := r.bits(8)
	if err != nil {
		return nil, err
	}
	if lit > 1 {
		return nil, fmt.Errorf("pkware: invalid literal mode %d", lit)
	}
	dict, err := r.bits(8)
	if err != nil {
		return nil, err
	}
	if dict < 4 || dict > 6 {
		return nil, fmt.Errorf("pkware: invalid dictionary size %d", dict)
	}

	out := make([]byte, 0, uncompressedSize)
	for uint32(len(out)) < uncompressedSize {
		flag, err := r.bits(1)
		if err != nil {
			return nil, err
		}

		if flag == 0 {
			var sym int
			if lit == 1 {
				sym, err = r.decode(explodeLitCode)
			} else {
				sym, err = r.bits(8)
			}
			if err != nil {
				return nil, err
			}
			out = append(out, byte(sym))
			continue
		}

		sym, err := r.decode(explodeLenCode)
		if err != nil {
			return nil, err
		}
		extra, err := r.bits(explodeLenExtra[sym])
		if err != nil {
			return nil, err
		}
		length := explodeLenBase[sym] + extra
		if length == 519 {
			break
		}

		shift := dict
		if length == 2 {
			shift = 2
		}
		high, err := r.decode(explodeDistCode)
		if err != nil {
			return nil, err
		}
		low, err := r.bits(shift)
		if err != nil {
			return nil, err
		}
		dist := high<<shift + low + 1
		if dist > len(out) {
			return nil, errExplodeDistance
		}

		for ; length > 0 && uint32(len(out)) < uncompressedSize; length-- {
			out = append(out, out[len(out)-dist])
		}
	}

	return out, nil
}
