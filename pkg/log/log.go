// Package log configures the process-wide structured logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default slog logger writing to stderr.
func Setup(logLevel string, format string) {
	slog.SetDefault(New(os.Stderr, logLevel, format))
}

// New builds a logger with the given level ("debug", "info", "warn", "error")
// and format ("text" or "json").
func New(w io.Writer, logLevel string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
