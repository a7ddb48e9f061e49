// Package observability provides logging, metrics, and tracing setup
// for the coordination runtime.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger. Level is one of debug, info,
// warn, error (default info); jsonOutput selects JSON over text.
func NewLogger(level string, jsonOutput bool) *slog.Logger {
	return newLogger(os.Stderr, level, jsonOutput)
}

func newLogger(w io.Writer, level string, jsonOutput bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
