// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq provides pure Go support for reading MPQ (Mo'PaQ) archives.

MPQ is an archive format created by Blizzard Entertainment, used in games like
Diablo, StarCraft, Warcraft III and World of Warcraft. This package reads the
fixed archive header, the encrypted hash and block tables, and streams the
files they describe one sector at a time.

# Features

  - Pure Go implementation with no CGO
  - Streaming reads through io.Reader, io.Seeker and io.ReaderAt
  - Encrypted files, including keys adjusted by block offset
  - Zlib, PKWARE DCL, BZip2, LZMA and ADPCM sector compression
  - Optional Adler-32 sector checksums and (attributes) CRC32 verification
  - Regular file or memory-mapped byte sources

# Basic Usage

Reading an archive:

	archive, err := mpq.Open("game.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	f, err := archive.OpenFile("Data\\file.txt")
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	io.Copy(os.Stdout, f)

Small files can be read in one call:

	data, err := archive.ReadFile("(listfile)")

Failures wrap the sentinel errors ErrFormat, ErrDecryption, ErrNotFound,
ErrUnsupported, ErrChecksum and ErrClosed; test for them with errors.Is.

# Path Conventions

MPQ archives use backslash (\) as the path separator. Name hashing treats
forward slashes as backslashes and ignores ASCII case, so these are the same
file:

	archive.OpenFile("Data\\SubDir\\file.txt")
	archive.OpenFile("data/subdir/FILE.TXT")

# Concurrency

An Archive is immutable once opened and may be shared between goroutines.
Each File keeps its own position and cached sector and belongs to one
goroutine at a time.

# Limitations

  - No writing or modification of archives
  - No support for patch archives or patch files
  - No support for Huffman or sparse compression, or combined compression masks
  - Only the fixed 32-byte header is read; extended V2+ header fields are ignored
*/
package mpq
