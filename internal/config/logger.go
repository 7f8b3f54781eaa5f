package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger initializes the application logger based on configuration.
// An empty File logs to the default state directory; "-" logs to stderr.
func InitLogger(cfg *LoggingConfig) (*slog.Logger, error) {
	level := parseLogLevel(cfg.Level)

	if cfg.File == "" {
		cfg.File = filepath.Join(getStateDir(), AppName, AppName+".log")
	}
	toConsole := cfg.File == "-"

	var writer io.Writer
	if toConsole {
		writer = os.Stderr
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		writer = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}
	}

	logger := slog.New(NewHandler(writer, cfg.Format, level, cfg.Color && toConsole))
	slog.SetDefault(logger)

	return logger, nil
}

// NewHandler builds the slog handler for the given format
func NewHandler(w io.Writer, format string, level slog.Level, color bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		if color {
			return slog.NewTextHandler(&colorWriter{w: w}, opts)
		}
		return slog.NewTextHandler(w, opts)
	}
}

// colorWriter colors the level field of each text record. slog's text
// handler emits one record per Write, so attrs added through WithAttrs and
// WithGroup are kept.
type colorWriter struct {
	mu sync.Mutex
	w  io.Writer
}

var levelColors = []struct {
	token []byte
	code  string
}{
	{[]byte("level=DEBUG"), "\033[90m"}, // gray
	{[]byte("level=INFO"), "\033[32m"},  // green
	{[]byte("level=WARN"), "\033[33m"},  // yellow
	{[]byte("level=ERROR"), "\033[31m"}, // red
}

func (c *colorWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.w.Write(colorize(p))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func colorize(p []byte) []byte {
	for _, lc := range levelColors {
		idx := bytes.Index(p, lc.token)
		if idx < 0 {
			continue
		}
		end := idx + len(lc.token)
		out := make([]byte, 0, len(p)+len(lc.code)+4)
		out = append(out, p[:idx]...)
		out = append(out, lc.code...)
		out = append(out, p[idx:end]...)
		out = append(out, "\033[0m"...)
		return append(out, p[end:]...)
	}
	return p
}

// parseLogLevel parses a log level string
func parseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
