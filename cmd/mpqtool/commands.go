// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	mpq "github.com/suprsokr/mpqstream"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the archive header and table sizes",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the files named in (listfile)",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var catCmd = &cobra.Command{
	Use:   "cat NAME...",
	Short: "Write archived files to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCat,
}

var extractCmd = &cobra.Command{
	Use:   "extract [NAME...]",
	Short: "Extract files (all listed files by default) into a directory",
	RunE:  runExtract,
}

var verifyCmd = &cobra.Command{
	Use:   "verify [NAME...]",
	Short: "Check files against the CRC32 values in (attributes)",
	RunE:  runVerify,
}

func runInfo(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	h := archive.Header()
	blocks := archive.Blocks()

	var files, compressed, encrypted int
	for _, b := range blocks {
		if !b.HasFlag(mpq.FileExists) {
			continue
		}
		files++
		if b.IsCompressed() {
			compressed++
		}
		if b.HasFlag(mpq.FileEncrypted) {
			encrypted++
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "archive:\t%s\n", archive.Path())
	fmt.Fprintf(w, "archive size:\t%d\n", h.ArchiveSize)
	fmt.Fprintf(w, "header size:\t%d\n", h.HeaderSize)
	fmt.Fprintf(w, "format version:\t%d\n", h.FormatVersion)
	fmt.Fprintf(w, "sector size:\t%d\n", h.SectorSize())
	fmt.Fprintf(w, "hash table:\t%d entries at 0x%08X\n", h.HashTableSize, h.HashTableOffset)
	fmt.Fprintf(w, "block table:\t%d entries at 0x%08X\n", h.BlockTableSize, h.BlockTableOffset)
	fmt.Fprintf(w, "files:\t%d (%d compressed, %d encrypted)\n", files, compressed, encrypted)

	if sig, err := archive.ReadSignature(); err != nil {
		logger.Warn("unreadable signature", "error", err)
	} else if sig != nil {
		fmt.Fprintf(w, "signature:\t%s, %d bytes\n", sig.Kind(), len(sig.Signature))
	}

	return w.Flush()
}

func runList(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	names, err := archive.ListFiles()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		logger.Warn("archive has no (listfile)", "archive", archive.Path())
		return nil
	}

	out := cmd.OutOrStdout()
	for _, name := range names {
		block, err := archive.Lookup(name)
		if err != nil {
			logger.Debug("listed file not in archive", "name", name)
			continue
		}
		fmt.Fprintf(out, "%10d  %s\n", block.FileSize, name)
	}
	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	for _, name := range args {
		if err := catFile(archive, name, cmd.OutOrStdout()); err != nil {
			return err
		}
	}
	return nil
}

func catFile(archive *mpq.Archive, name string, out io.Writer) error {
	f, err := archive.OpenFile(name)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(out, f); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	names, err := namesOrListfile(archive, args)
	if err != nil {
		return err
	}

	var failed int
	for _, name := range names {
		rel := filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
		if !filepath.IsLocal(rel) {
			logger.Warn("skipping file with unsafe path", "name", name)
			failed++
			continue
		}

		dest := filepath.Join(cfg.OutputDir, rel)
		if err := archive.ExtractFile(name, dest); err != nil {
			logger.Error("extract failed", "name", name, "error", err)
			failed++
			continue
		}
		logger.Info("extracted", "name", name, "dest", dest)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be extracted", failed, len(names))
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	attrs, err := archive.ReadAttributes()
	if err != nil {
		return err
	}
	if attrs == nil || attrs.CRC32 == nil {
		logger.Warn("archive has no CRC32 attributes, nothing to verify")
		return nil
	}

	names, err := namesOrListfile(archive, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var failed int
	for _, name := range names {
		err := archive.VerifyFile(name)
		switch {
		case err == nil:
			fmt.Fprintf(out, "OK      %s\n", name)
		case errors.Is(err, mpq.ErrChecksum):
			fmt.Fprintf(out, "FAILED  %s\n", name)
			failed++
		default:
			fmt.Fprintf(out, "ERROR   %s: %v\n", name, err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed verification", failed, len(names))
	}
	return nil
}

// namesOrListfile returns args, or every name in (listfile) when args is empty.
func namesOrListfile(archive *mpq.Archive, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}

	names, err := archive.ListFiles()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("archive has no (listfile); name the files to process")
	}
	return names, nil
}
