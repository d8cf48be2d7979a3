// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "log/slog"

type openOptionData struct {
	logger          *slog.Logger
	useMmap         bool
	fileCacheSize   int
	sectorChecksums bool
}

// OpenOption functions can be supplied to Open, OpenHeader and OpenSource.
type OpenOption func(*openOptionData)

// WithLogger sets the logger used for load and stream diagnostics.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) OpenOption {
	return func(o *openOptionData) {
		o.logger = logger
	}
}

// WithMmap maps the archive into memory instead of reading it through a file
// handle. Ignored by OpenSource.
func WithMmap(val bool) OpenOption {
	return func(o *openOptionData) {
		o.useMmap = val
	}
}

// WithFileCache keeps up to n fully decoded files returned by ReadFile in an
// adaptive replacement cache. Zero (the default) disables the cache.
func WithFileCache(n int) OpenOption {
	return func(o *openOptionData) {
		o.fileCacheSize = n
	}
}

// WithSectorChecksums enables Adler-32 verification of every decoded sector
// of files flagged with FileSectorCRC.
func WithSectorChecksums(val bool) OpenOption {
	return func(o *openOptionData) {
		o.sectorChecksums = val
	}
}

func buildOptions(options []OpenOption) openOptionData {
	opts := openOptionData{}
	for _, o := range options {
		o(&opts)
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	return opts
}
