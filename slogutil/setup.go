package slogutil

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger setup.
type Config struct {
	// Level is debug, info, warn or error. Empty falls back to the
	// LOG_LEVEL environment variable, then to info.
	Level string

	// File adds rotated file output next to stdout when set.
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

// Setup builds a JSON logger per the configuration and installs it as
// the slog default.
func Setup(cfg Config) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.File != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
		})
	}

	base := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})

	logger := slog.New(Wrap(base))
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps a level name to a slog level, consulting LOG_LEVEL
// when the name is empty and defaulting to info.
func ParseLevel(level string) slog.Leveler {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	switch strings.ToLower(level) {
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

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
