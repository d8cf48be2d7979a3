// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	mpq "github.com/suprsokr/mpqstream"
	"github.com/suprsokr/mpqstream/internal/config"
	"github.com/suprsokr/mpqstream/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:               "mpqtool",
	Short:             "Inspect and extract MPQ archives",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	// archive access
	rootCmd.PersistentFlags().StringP("archive", "a", "", "path to the .mpq archive (required)")
	rootCmd.PersistentFlags().Bool("mmap", false, "memory-map the archive instead of reading through a file handle")
	rootCmd.PersistentFlags().Int("file-cache", 0, "number of decoded files to keep in memory")
	rootCmd.PersistentFlags().Bool("sector-checksums", false, "verify Adler-32 sector checksums when present")

	// other opts
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-output-dir", "", "directory to write log files (if set, logs are written to both stderr and file)")

	viper.BindPFlag("archive", rootCmd.PersistentFlags().Lookup("archive"))
	viper.BindPFlag("mmap", rootCmd.PersistentFlags().Lookup("mmap"))
	viper.BindPFlag("file_cache", rootCmd.PersistentFlags().Lookup("file-cache"))
	viper.BindPFlag("sector_checksums", rootCmd.PersistentFlags().Lookup("sector-checksums"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_output_dir", rootCmd.PersistentFlags().Lookup("log-output-dir"))

	extractCmd.Flags().StringP("output", "o", ".", "directory to extract files into")
	viper.BindPFlag("output_dir", extractCmd.Flags().Lookup("output"))

	rootCmd.AddCommand(infoCmd, lsCmd, catCmd, extractCmd, verifyCmd)
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "mpqtool"))
		}
		viper.AddConfigPath("/etc/mpqtool")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	viper.SetEnvPrefix("MPQTOOL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setup loads the configuration and the process logger before any subcommand
// runs.
func setup(cmd *cobra.Command, args []string) error {
	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l, err := logging.Setup(cfg.LogLevel, cfg.LogOutputDir)
	if err != nil {
		return fmt.Errorf("could not set up logging: %w", err)
	}
	logger = l

	if cfg.Archive == "" {
		return fmt.Errorf("no archive given (use --archive or MPQTOOL_ARCHIVE)")
	}
	return nil
}

// openArchive opens the configured archive with the configured options.
func openArchive() (*mpq.Archive, error) {
	logger.Debug("opening archive", "path", cfg.Archive, "mmap", cfg.Mmap)

	return mpq.Open(cfg.Archive,
		mpq.WithLogger(logger),
		mpq.WithMmap(cfg.Mmap),
		mpq.WithFileCache(cfg.FileCache),
		mpq.WithSectorChecksums(cfg.SectorChecksums),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
