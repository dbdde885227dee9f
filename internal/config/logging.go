package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// NewLogger builds the process logger from the log section: a text handler
// on stderr, plus a JSON handler appending to log.file when set.
// The returned close func is a no-op when no file is open.
func NewLogger(cfg LogConfig) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	text := slog.NewTextHandler(os.Stderr, opts)

	if cfg.File == "" {
		return slog.New(text), func() error { return nil }, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", cfg.File, err)
	}

	handler := slogmulti.Fanout(text, slog.NewJSONHandler(f, opts))
	return slog.New(handler), f.Close, nil
}
