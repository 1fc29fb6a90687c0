// Package klog is the kernel's leveled logger. Every package in this module
// logs through the default logger here instead of importing log/slog
// directly, so the embedder can redirect kernel logs (including the native
// kernel-log interface, see internal/native) by calling SetDefault once.
package klog

import (
	"fmt"
	"log/slog"
	"os"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// SetDefault replaces the logger used by package-level Debugf/Infof/Warnf/Errorf.
func SetDefault(logger *slog.Logger) {
	defaultLogger = logger
}

// Default returns the logger currently used by the package-level helpers.
func Default() *slog.Logger {
	return defaultLogger
}

func Debugf(format string, args ...any) {
	defaultLogger.Debug(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	defaultLogger.Info(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	defaultLogger.Error(fmt.Sprintf(format, args...))
}

// WithPid returns a logger that tags every record with the emitting
// process id, used by internal/native's KernelLog handler to make
// per-process logs greppable.
func WithPid(pid uint64) *slog.Logger {
	return defaultLogger.With("pid", pid)
}
