// Package logger provides logging initialization for the pipeline master.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/darkace1998/video-pipeline/internal/constants"
)

// Init initializes the default logger with the specified level and format
func Init(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger writing to w. Unknown formats fall back to text.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if format == constants.LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		if format != constants.LogFormatText && format != "" {
			slog.Warn("Unsupported log format, defaulting to text", "format", format)
		}
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case constants.LogLevelDebug:
		return slog.LevelDebug
	case constants.LogLevelInfo:
		return slog.LevelInfo
	case constants.LogLevelWarn:
		return slog.LevelWarn
	case constants.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
