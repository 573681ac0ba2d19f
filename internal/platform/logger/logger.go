package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON in production,
// text when UNUM_LOG_FORMAT=text makes local output readable.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("UNUM_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if os.Getenv("UNUM_LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
