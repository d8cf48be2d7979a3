// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"
)

// Source is the random-access byte source an archive reads from.
// Every read names its absolute offset, so streams opened on the same archive
// can read concurrently without sharing a cursor.
type Source interface {
	io.ReaderAt
	io.Closer
}

// openSource opens path either as a regular file or as a read-only memory map.
func openSource(path string, useMmap bool) (Source, error) {
	if useMmap {
		r, err := mmap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("mmap archive: %w", err)
		}
		return r, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// nopCloser adapts a plain io.ReaderAt into a Source whose Close does nothing.
type nopCloser struct {
	io.ReaderAt
}

func (nopCloser) Close() error { return nil }

// NopSource wraps r so it can back an archive without being closed by it.
func NopSource(r io.ReaderAt) Source {
	return nopCloser{r}
}
