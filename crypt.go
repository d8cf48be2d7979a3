// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Hash types for the hash function
const (
	hashTypeTableOffset = 0
	hashTypeNameA       = 1
	hashTypeNameB       = 2
	hashTypeFileKey     = 3
)

const cryptTableSize = 0x500

// cryptTable is the encryption/hash lookup table. It is built once on first
// use and never written afterwards.
type cryptTable [cryptTableSize]uint32

var (
	cryptOnce        sync.Once
	sharedCryptTable *cryptTable
)

// lookupTable returns the process-wide crypt table, building it on first call.
func lookupTable() *cryptTable {
	cryptOnce.Do(func() {
		sharedCryptTable = buildCryptTable()
	})
	return sharedCryptTable
}

func buildCryptTable() *cryptTable {
	t := new(cryptTable)
	seed := uint32(0x00100001)

	for index1 := 0; index1 < 0x100; index1++ {
		index2 := index1
		for i := 0; i < 5; i++ {
			seed = (seed*125 + 3) % 0x2AAAAB
			temp1 := (seed & 0xFFFF) << 0x10

			seed = (seed*125 + 3) % 0x2AAAAB
			temp2 := seed & 0xFFFF

			t[index2] = temp1 | temp2
			index2 += 0x100
		}
	}
	return t
}

// HashString computes the MPQ hash of s for the given hash type (0 to 4).
// Letters are upper-cased (ASCII only) and forward slashes count as backslashes,
// so "data/a.txt" and "DATA\A.TXT" hash identically. Unknown hash types
// hash every string to 0.
func HashString(s string, hashType uint32) uint32 {
	if hashType >= cryptTableSize/0x100 {
		return 0
	}

	t := lookupTable()
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)

	for i := 0; i < len(s); i++ {
		ch := uint32(s[i])
		if ch >= 'a' && ch <= 'z' {
			ch -= 0x20
		}
		if ch == '/' {
			ch = '\\'
		}

		seed1 = t[hashType*0x100+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + (seed2 << 5) + 3
	}

	return seed1
}

// HashFilename returns the 64-bit fingerprint used as the hash-table key:
// the type-1 hash in the high word and the type-2 hash in the low word.
func HashFilename(name string) uint64 {
	return uint64(HashString(name, hashTypeNameA))<<32 | uint64(HashString(name, hashTypeNameB))
}

// nextKey advances the key half of the cipher state.
func nextKey(key uint32) uint32 {
	return ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
}

// EncryptBlock encrypts data in place with key.
// The feedback term uses the plaintext word, which makes it the exact inverse
// of DecryptBlock.
func EncryptBlock(data []uint32, key uint32) {
	t := lookupTable()
	seed := uint32(0xEEEEEEEE)

	for i := range data {
		seed += t[0x400+(key&0xFF)]
		plain := data[i]
		encrypted := plain ^ (key + seed)
		key = nextKey(key)
		seed = plain + seed + (seed << 5) + 3
		data[i] = encrypted
	}
}

// DecryptBlock decrypts data in place with key.
func DecryptBlock(data []uint32, key uint32) {
	t := lookupTable()
	seed := uint32(0xEEEEEEEE)

	for i := range data {
		seed += t[0x400+(key&0xFF)]
		plain := data[i] ^ (key + seed)
		key = nextKey(key)
		seed = plain + seed + (seed << 5) + 3
		data[i] = plain
	}
}

// decryptBytes decrypts the whole little-endian words of data in place.
// Trailing bytes that do not fill a word are left untouched.
func decryptBytes(data []byte, key uint32) {
	t := lookupTable()
	seed := uint32(0xEEEEEEEE)

	for i := 0; i+4 <= len(data); i += 4 {
		seed += t[0x400+(key&0xFF)]
		plain := binary.LittleEndian.Uint32(data[i:]) ^ (key + seed)
		key = nextKey(key)
		seed = plain + seed + (seed << 5) + 3
		binary.LittleEndian.PutUint32(data[i:], plain)
	}
}

// encryptBytes is the byte-slice counterpart of EncryptBlock.
func encryptBytes(data []byte, key uint32) {
	t := lookupTable()
	seed := uint32(0xEEEEEEEE)

	for i := 0; i+4 <= len(data); i += 4 {
		seed += t[0x400+(key&0xFF)]
		plain := binary.LittleEndian.Uint32(data[i:])
		binary.LittleEndian.PutUint32(data[i:], plain^(key+seed))
		key = nextKey(key)
		seed = plain + seed + (seed << 5) + 3
	}
}

// tableChunkSize bounds each read of an encrypted table, so a corrupt entry
// count costs no more memory than the source actually holds.
const tableChunkSize = 64 << 10

// decryptTable reads up to entries records of four words at offset from r and
// decrypts them with the key derived from name. Reading stops at the end of
// the source; only whole records are returned.
func decryptTable(r io.ReaderAt, entries uint32, name string, offset int64) ([]uint32, error) {
	want := int64(entries) * 16
	chunk := make([]byte, min(want, tableChunkSize))

	var raw []byte
	for int64(len(raw)) < want {
		buf := chunk[:min(want-int64(len(raw)), int64(len(chunk)))]
		n, err := r.ReadAt(buf, offset+int64(len(raw)))
		raw = append(raw, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
	}

	words := make([]uint32, len(raw)/16*4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	DecryptBlock(words, HashString(name, hashTypeFileKey))

	return words, nil
}

// getFileKey computes the encryption key for a stored file from its name.
// Only the part after the last path separator takes part in the hash.
func getFileKey(filename string, blockOffset uint32, fileSize uint32, flags uint32) uint32 {
	plainName := filename
	if idx := lastIndexOfSlash(filename); idx >= 0 {
		plainName = filename[idx+1:]
	}

	key := HashString(plainName, hashTypeFileKey)

	if flags&FileFixKey != 0 {
		key = (key + blockOffset) ^ fileSize
	}

	return key
}

// lastIndexOfSlash finds the last path separator in a string
func lastIndexOfSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\\' || s[i] == '/' {
			return i
		}
	}
	return -1
}
