// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
)

// Setup configures the global slog logger and returns it.
// Console output goes to stderr so that file contents written to stdout stay
// clean. If logOutputDir is non-empty, logs are also written as JSON to a
// timestamped file in that directory.
func Setup(levelStr string, logOutputDir string) (*slog.Logger, error) {
	return setup(os.Stderr, levelStr, logOutputDir)
}

func setup(console io.Writer, levelStr string, logOutputDir string) (*slog.Logger, error) {
	level := parseLogLevel(levelStr)

	consoleHandler := tint.NewHandler(console, &tint.Options{Level: level})

	if logOutputDir == "" {
		logger := slog.New(consoleHandler)
		slog.SetDefault(logger)
		return logger, nil
	}

	logDir := os.ExpandEnv(logOutputDir)

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	logFileName := fmt.Sprintf("mpqtool_%s.log", timestamp)
	logFilePath := filepath.Join(logDir, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level})

	logger := slog.New(slogmulti.Fanout(consoleHandler, fileHandler))
	slog.SetDefault(logger)

	fmt.Fprintf(console, "Logging to file: %s\n", logFilePath)

	return logger, nil
}

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
