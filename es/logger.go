package es

import "context"

// Logger provides a minimal, optional interface for observability. Pass nil
// (or NoOpLogger{}) for zero overhead when logging isn't needed. Implement
// it to plug in zap, zerolog, logrus, slog, or anything else.
type Logger interface {
	// Debug logs verbose operational detail, e.g. per-batch read sizes.
	Debug(ctx context.Context, msg string, keyvals ...interface{})

	// Info logs significant lifecycle events, e.g. subscription state
	// transitions.
	Info(ctx context.Context, msg string, keyvals ...interface{})

	// Error logs failures that require attention.
	Error(ctx context.Context, msg string, keyvals ...interface{})
}

// NoOpLogger discards everything. It is the default when no Logger is
// configured.
type NoOpLogger struct{}

// Debug implements Logger.
func (NoOpLogger) Debug(_ context.Context, _ string, _ ...interface{}) {}

// Info implements Logger.
func (NoOpLogger) Info(_ context.Context, _ string, _ ...interface{}) {}

// Error implements Logger.
func (NoOpLogger) Error(_ context.Context, _ string, _ ...interface{}) {}
