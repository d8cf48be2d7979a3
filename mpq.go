// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/arc/v2"
)

// Archive represents an MPQ archive opened for reading.
//
// Once Open returns, the header and both tables are immutable and may be used
// from any number of goroutines. Each File returned by OpenFile is owned by
// one goroutine, apart from its ReadAt.
type Archive struct {
	src    Source
	path   string
	header *Header
	logger *slog.Logger
	opts   openOptionData

	hashTable  []HashEntry
	hashIndex  map[uint64]HashEntry
	blockTable []BlockEntry

	cache  *arc.ARCCache[uint64, []byte]
	closed atomic.Bool
}

// OpenHeader opens an archive and reads only its header. Lookups on the
// returned archive fail with ErrNotFound.
func OpenHeader(path string, options ...OpenOption) (*Archive, error) {
	return openPath(path, false, options)
}

// Open opens an archive and loads its hash and block tables.
func Open(path string, options ...OpenOption) (*Archive, error) {
	return openPath(path, true, options)
}

// OpenSource loads an archive, tables included, from an already opened
// source. Closing the archive closes src.
func OpenSource(src Source, options ...OpenOption) (*Archive, error) {
	return load(src, "", true, buildOptions(options))
}

func openPath(path string, full bool, options []OpenOption) (*Archive, error) {
	opts := buildOptions(options)

	src, err := openSource(path, opts.useMmap)
	if err != nil {
		return nil, err
	}
	return load(src, path, full, opts)
}

// load reads the header and, when full is set, both tables. Any failure
// closes src.
func load(src Source, path string, full bool, opts openOptionData) (*Archive, error) {
	header, err := readArchiveHeader(src)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	a := &Archive{
		src:    src,
		path:   path,
		header: header,
		logger: opts.logger,
		opts:   opts,
	}

	a.logger.Debug("header is valid",
		"path", path,
		"header_size", header.HeaderSize,
		"archive_size", header.ArchiveSize,
		"format_version", header.FormatVersion,
		"sector_size", header.SectorSize(),
		"hash_table_offset", header.HashTableOffset,
		"block_table_offset", header.BlockTableOffset,
	)

	if !full {
		return a, nil
	}

	if err := a.loadTables(); err != nil {
		src.Close()
		return nil, err
	}

	if opts.fileCacheSize > 0 {
		cache, err := arc.NewARC[uint64, []byte](opts.fileCacheSize)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("create file cache: %w", err)
		}
		a.cache = cache
	}

	a.logger.Info("archive loaded",
		"path", path,
		"hash_entries", len(a.hashTable),
		"block_entries", len(a.blockTable),
	)

	return a, nil
}

func (a *Archive) loadTables() error {
	hashTable, hashIndex, err := readHashTable(a.src, a.header)
	if err != nil {
		return fmt.Errorf("read hash table: %w", err)
	}

	blockTable, err := readBlockTable(a.src, a.header)
	if err != nil {
		return fmt.Errorf("read block table: %w", err)
	}

	if uint32(len(hashTable)) != a.header.HashTableSize || uint32(len(blockTable)) != a.header.BlockTableSize {
		a.logger.Warn("tables truncated by end of archive",
			"path", a.path,
			"hash_entries", len(hashTable),
			"hash_table_size", a.header.HashTableSize,
			"block_entries", len(blockTable),
			"block_table_size", a.header.BlockTableSize,
		)
	}

	a.hashTable = hashTable
	a.hashIndex = hashIndex
	a.blockTable = blockTable
	return nil
}

// Header returns a copy of the archive header.
func (a *Archive) Header() Header {
	return *a.header
}

// Size returns the archive size recorded in the header.
func (a *Archive) Size() uint32 {
	return a.header.ArchiveSize
}

// Path returns the path the archive was opened from, or "" for OpenSource.
func (a *Archive) Path() string {
	return a.path
}

// HashEntries returns a copy of the hash table in on-disk order.
func (a *Archive) HashEntries() []HashEntry {
	return append([]HashEntry(nil), a.hashTable...)
}

// Blocks returns a copy of the block table.
func (a *Archive) Blocks() []BlockEntry {
	return append([]BlockEntry(nil), a.blockTable...)
}

// Lookup returns the block entry stored under name.
func (a *Archive) Lookup(name string) (BlockEntry, error) {
	idx, err := a.blockIndex(name)
	if err != nil {
		return BlockEntry{}, err
	}
	return a.blockTable[idx], nil
}

// blockIndex resolves name to a valid index into the block table.
func (a *Archive) blockIndex(name string) (uint32, error) {
	entry, ok := a.hashIndex[HashFilename(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if entry.BlockIndex >= uint32(len(a.blockTable)) {
		return 0, fmt.Errorf("%w: %s: invalid block index %d", ErrNotFound, name, entry.BlockIndex)
	}
	return entry.BlockIndex, nil
}

// HasFile returns true if the hash table holds an entry for name.
// Forward slashes and backslashes are interchangeable.
func (a *Archive) HasFile(name string) bool {
	_, ok := a.hashIndex[HashFilename(name)]
	return ok
}

// OpenFile opens name for streaming reads.
func (a *Archive) OpenFile(name string) (*File, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}

	block, err := a.Lookup(name)
	if err != nil {
		return nil, err
	}
	return newFile(a, block, name)
}

// ReadFile returns the whole decoded content of name.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	key := HashFilename(name)
	if a.cache != nil {
		if data, ok := a.cache.Get(key); ok {
			return bytes.Clone(data), nil
		}
	}

	f, err := a.OpenFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := make([]byte, f.Size())
	n, err := io.ReadFull(f, data)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	data = data[:n]

	if a.cache != nil {
		a.cache.Add(key, bytes.Clone(data))
	}
	return data, nil
}

// ExtractFile extracts a file from the archive to the specified destination.
func (a *Archive) ExtractFile(name, destPath string) error {
	data, err := a.ReadFile(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// ListFiles returns the names recorded in the archive's (listfile).
// Archives without one yield an empty list. Trailing NUL padding is removed,
// lines may end in LF or CRLF, and empty lines are skipped.
func (a *Archive) ListFiles() ([]string, error) {
	names := []string{}
	if !a.HasFile(listFileName) {
		return names, nil
	}

	data, err := a.ReadFile(listFileName)
	if err != nil {
		return nil, fmt.Errorf("read listfile: %w", err)
	}

	text := strings.TrimRight(string(data), "\x00")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Close releases the byte source. Files opened from the archive fail with
// ErrClosed afterwards.
func (a *Archive) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	if a.cache != nil {
		a.cache.Purge()
	}
	return a.src.Close()
}

func (a *Archive) isClosed() bool {
	return a.closed.Load()
}
