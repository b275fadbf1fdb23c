// Package klog is the kernel extension's structured logger. It wraps
// log/slog with a rotating file sink, mirroring gcsfuse's internal/logger
// package (an async_logger.go/logger.go pair of the same shape). Every
// call site here is always compiled in and leveled; verbosity is a
// runtime config knob (internal/config), not a build-time debug flag.
package klog

import (
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu  sync.Mutex
	log = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

// Options configures the rotating file sink. A zero Options leaves the
// logger writing to stderr, so packages may log before Init runs.
type Options struct {
	FilePath   string // empty means stderr
	MaxSizeMB  int
	MaxBackups int
	Level      slog.Level
}

// Init installs the process-wide logger. Safe to call once at startup;
// later calls replace the previous logger.
func Init(opt Options) {
	mu.Lock()
	defer mu.Unlock()

	var w = os.Stderr
	handlerOpts := &slog.HandlerOptions{Level: opt.Level}
	if opt.FilePath == "" {
		log = slog.New(slog.NewTextHandler(w, handlerOpts))
		return
	}
	rot := &lumberjack.Logger{
		Filename:   opt.FilePath,
		MaxSize:    nonzero(opt.MaxSizeMB, 50),
		MaxBackups: nonzero(opt.MaxBackups, 5),
	}
	log = slog.New(slog.NewTextHandler(rot, handlerOpts))
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// slog.Level, defaulting to Info for anything else.
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

func nonzero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Debug, Info, Warn, and Error forward to the active logger. Components
// use Debug for routine cache-eviction, inode-growth, swap, frame-eviction
// and mmap traces; the device layer logs at Error immediately before it
// panics on an I/O failure. Other panics are not logged first.
func Debug(msg string, args ...any) {
	mu.Lock()
	l := log
	mu.Unlock()
	l.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	mu.Lock()
	l := log
	mu.Unlock()
	l.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	mu.Lock()
	l := log
	mu.Unlock()
	l.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	mu.Lock()
	l := log
	mu.Unlock()
	l.Error(msg, args...)
}
