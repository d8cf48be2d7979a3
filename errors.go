// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "errors"

// Errors returned by archive and stream operations. They are wrapped with
// context, so test for them with errors.Is.
var (
	// ErrFormat reports a missing or malformed archive header.
	ErrFormat = errors.New("mpq: invalid archive format")

	// ErrDecryption reports a sector offset table that does not validate
	// after decryption, which almost always means the key was wrong.
	ErrDecryption = errors.New("mpq: decryption failed")

	// ErrNotFound reports a name whose fingerprint is not in the hash table,
	// or whose hash entry points outside the block table.
	ErrNotFound = errors.New("mpq: file not found")

	// ErrUnsupported reports patch files and unknown compression tags.
	ErrUnsupported = errors.New("mpq: unsupported feature")

	// ErrChecksum reports a sector whose Adler-32, or a file whose CRC32 in
	// (attributes), does not match the stored value.
	ErrChecksum = errors.New("mpq: checksum mismatch")

	// ErrClosed is returned by operations on a closed archive or file.
	ErrClosed = errors.New("mpq: use of closed archive or file")
)
