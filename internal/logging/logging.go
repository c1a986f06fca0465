// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// Setup installs a default logger writing to w with the given level and format
// ("text" or "json") and returns it.
func Setup(w io.Writer, level, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, options)
	} else {
		handler = slog.NewTextHandler(w, options)
	}

	logger := slog.New(handler).With("service", "quota")
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name or number to a slog level. Unknown values yield info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "", "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		if i, err := strconv.Atoi(value); err == nil {
			return slog.Level(i)
		}
		return slog.LevelInfo
	}
}
