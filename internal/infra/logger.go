package infra

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new slog.Logger with log rotation support
func NewLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(newLogWriter(cfg), &slog.HandlerOptions{
		Level: ParseLevel(cfg.Logging.Level),
		// AddSource: true, // Optional: Include file line number (expensive)
	}))
}

func newLogWriter(cfg *Config) io.Writer {
	// Create logs directory if not exists
	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		// Fallback to stderr if directory creation fails
		return os.Stderr
	}

	fileName := cfg.Logging.File
	if fileName == "" {
		fileName = "app.log"
	}

	// Setup lumberjack logger for file rotation
	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, fileName),
		MaxSize:    cfg.Logging.MaxSizeMB, // Megabytes
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays, // Days
		Compress:   cfg.Logging.Compress,
	}

	// Multi-writer: Log to both file and stdout
	return io.MultiWriter(os.Stdout, fileLogger)
}

// ParseLevel maps a config level name to slog; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch s {
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
