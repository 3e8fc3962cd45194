package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates the process logger and installs it as the slog default.
// Logs go to stderr; stdout belongs to the chat transcript.
func NewLogger(level, format string) *slog.Logger {
	log := newLogger(os.Stderr, level, format)
	slog.SetDefault(log)
	return log
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl, AddSource: true}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
