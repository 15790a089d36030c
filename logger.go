package fabrichost

import (
	"context"
	"log/slog"
)

// Logger defines the interface for host logging.
// The host uses structured logging with key-value pairs so every
// lifecycle step (initializers, registration, listener open/close,
// shutdown) produces consistent, parseable output.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// *slog.Logger satisfies this interface directly.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// LevelCritical is the severity used for start-time failures. It sits
// above slog.LevelError so handlers filtering on error still see it.
const LevelCritical = slog.LevelError + 4

// levelLogger is implemented by loggers that accept an explicit level,
// such as *slog.Logger.
type levelLogger interface {
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
}

// logCritical logs msg at LevelCritical when the logger supports explicit
// levels and falls back to Error tagged with severity=critical otherwise.
func logCritical(ctx context.Context, logger Logger, msg string, args ...any) {
	if ll, ok := logger.(levelLogger); ok {
		ll.Log(ctx, LevelCritical, msg, args...)
		return
	}
	logger.Error(msg, append([]any{"severity", "critical"}, args...)...)
}

// nopLogger discards everything. Used where a component is built without
// a logger, e.g. in isolated tests.
type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// NopLogger returns a Logger that drops all output.
func NopLogger() Logger {
	return nopLogger{}
}
