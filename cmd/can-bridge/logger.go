package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/kstaniek/go-can-bridge/internal/logging"
)

func parseLevel(level string) slog.Level {
	switch level {
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

// setupLogger installs the process logger. Output goes to stderr and, when
// cfg.logFile is set, to a size-rotated file. The returned closer releases
// the file.
func setupLogger(cfg *appConfig) (*slog.Logger, io.Closer) {
	w, closer := logging.Output(os.Stderr, logging.FileOptions{
		Path:       cfg.logFile,
		MaxSizeMB:  cfg.logMaxSizeMB,
		MaxBackups: cfg.logMaxBackups,
		MaxAgeDays: cfg.logMaxAgeDays,
		Compress:   true,
	})
	l := logging.New(cfg.logFormat, parseLevel(cfg.logLevel), w).With("app", "can-bridge")
	logging.Set(l)
	return l, closer
}
