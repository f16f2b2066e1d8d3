// Package logger provides the global structured logger for harbor.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is a captured WARN/ERROR log entry, retained for the CLI's
// end-of-run summary.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
}

// Format renders an entry for terminal display.
func (e Entry) Format() string {
	level := "WARN"
	if e.Level >= slog.LevelError {
		level = "ERROR"
	}
	return fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05"), level, e.Message)
}

// captureBuffer is a fixed-size circular buffer of WARN/ERROR entries.
type captureBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	head    int
	count   int
}

func newCaptureBuffer(size int) *captureBuffer {
	return &captureBuffer{entries: make([]Entry, size), size: size}
}

func (b *captureBuffer) add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.head] = e
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

func (b *captureBuffer) all() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(b.head-b.count+i+b.size)%b.size]
	}
	return out
}

// captureHandler wraps another handler and records WARN/ERROR entries.
type captureHandler struct {
	inner  slog.Handler
	buffer *captureBuffer
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.buffer.add(Entry{Time: r.Time, Level: r.Level, Message: r.Message})
	}
	return h.inner.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{inner: h.inner.WithAttrs(attrs), buffer: h.buffer}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{inner: h.inner.WithGroup(name), buffer: h.buffer}
}

var (
	// Log is the global structured logger.
	Log *slog.Logger
	// LogPath is the path to the current log file.
	LogPath string

	logWriter *lumberjack.Logger
	buffer    *captureBuffer
)

// Init initializes the global logger with the given level and optional path.
// If logPath is empty, defaults to ~/.config/harbor/harbor.log.
func Init(level slog.Level, logPath string) {
	if logPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = os.TempDir()
		}
		logDir := filepath.Join(homeDir, ".config", "harbor")
		_ = os.MkdirAll(logDir, 0755)
		logPath = filepath.Join(logDir, "harbor.log")
	}
	LogPath = logPath

	logWriter = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}

	buffer = newCaptureBuffer(100)

	jsonHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: level})
	Log = slog.New(&captureHandler{inner: jsonHandler, buffer: buffer})
	slog.SetDefault(Log)
}

// Close closes the log file.
func Close() {
	if logWriter != nil {
		logWriter.Close()
	}
}

func getLogger() *slog.Logger {
	if Log != nil {
		return Log
	}
	return slog.Default()
}

// Debug logs a debug message.
func Debug(msg string, args ...any) { getLogger().Debug(msg, args...) }

// Info logs an info message.
func Info(msg string, args ...any) { getLogger().Info(msg, args...) }

// Warn logs a warning message.
func Warn(msg string, args ...any) { getLogger().Warn(msg, args...) }

// Error logs an error message.
func Error(msg string, args ...any) { getLogger().Error(msg, args...) }

// With creates a new logger with additional attributes.
func With(args ...any) *slog.Logger { return getLogger().With(args...) }

// Captured returns the retained WARN/ERROR entries, oldest first.
func Captured() []Entry {
	if buffer == nil {
		return nil
	}
	return buffer.all()
}
