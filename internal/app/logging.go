package app

import (
	"io"
	"log/slog"

	"github.com/poirierunited/get-ahead-ai/internal/config"
)

// NewLogger builds the process logger. level is read on every record, so
// setting it later changes verbosity without rebuilding the handler.
func NewLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Level maps a config level to its slog equivalent. Unknown values map to Info.
func Level(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
