// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package config

// Config holds app configuration
type Config struct {
	// Archive is the path of the MPQ archive to operate on
	Archive string `mapstructure:"archive"`

	// OutputDir is where extract writes files, keeping their archive paths
	OutputDir string `mapstructure:"output_dir"`

	// Mmap maps the archive into memory instead of reading through a file handle
	Mmap bool `mapstructure:"mmap"`

	// FileCache is the number of decoded files kept in memory (0 disables)
	FileCache int `mapstructure:"file_cache"`

	// SectorChecksums enables Adler-32 verification of sectors that carry one
	SectorChecksums bool `mapstructure:"sector_checksums"`

	LogLevel     string `mapstructure:"log_level"`
	LogOutputDir string `mapstructure:"log_output_dir"`
}
