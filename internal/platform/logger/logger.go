// Package logger builds the root structured logger for the process.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"merit/internal/platform/config"
)

// New returns a slog.Logger configured from LogConfig. Unknown levels fall
// back to info, unknown formats to JSON (the production default).
func New(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
