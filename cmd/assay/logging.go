package main

import (
	"log/slog"
	"os"
)

// newLogger builds the process-wide structured logger per levelName
// ("debug"/"info"/"warn"/"error"), matching the teacher's slog.Default()
// use but with the level wired from config instead of left at the
// package default.
func newLogger(levelName string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
