package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	logger *slog.Logger
)

// Setup initializes the global logger.
// logic: default to INFO + text. If level or format is invalid, fall back.
func Setup(level, format string) {
	mu.Lock()
	defer mu.Unlock()
	logger = build(os.Stderr, level, format)
	slog.SetDefault(logger)
}

// SetOutput rebuilds the global logger against w, keeping level and format.
// Used by tests that need to capture log output.
func SetOutput(w io.Writer, level, format string) {
	mu.Lock()
	defer mu.Unlock()
	logger = build(w, level, format)
}

func build(w io.Writer, level, format string) *slog.Logger {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: l}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = build(os.Stderr, "INFO", "text")
		slog.SetDefault(logger)
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithTarget returns a logger with the target run directory field set.
func WithTarget(dir string) *slog.Logger {
	return Get().With(slog.String("target", dir))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
