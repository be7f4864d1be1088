package logging

import (
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

func init() {
	Logger = newLogger(slog.LevelInfo)
}

func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetLevel replaces the package logger with one at the given level.
// Accepts "debug", "info", "warn", "error"; anything else keeps info.
func SetLevel(level string) {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	Logger = newLogger(l)
}

func WithComponent(component string) *slog.Logger {
	return Logger.With("component", component)
}
