// Package logger defines the logging interface used across StreamGuard.
//
// Components take a Logger in their constructor and never reach for a
// global. Pass nil (or Nop()) to silence a component in tests; use
// NewLogrus for the server.
package logger

// Logger is the interface for logging in StreamGuard.
type Logger interface {
	// Debug logs a debug message
	Debug(format string, args ...interface{})

	// Info logs an info message
	Info(format string, args ...interface{})

	// Warn logs a warning message
	Warn(format string, args ...interface{})

	// Error logs an error message
	Error(format string, args ...interface{})
}

// NopLogger is a no-op logger that discards all messages.
type NopLogger struct{}

func (l *NopLogger) Debug(format string, args ...interface{}) {}
func (l *NopLogger) Info(format string, args ...interface{})  {}
func (l *NopLogger) Warn(format string, args ...interface{})  {}
func (l *NopLogger) Error(format string, args ...interface{}) {}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &NopLogger{}
}

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return &NopLogger{}
	}
	return l
}

// Ensure implementations satisfy the interface
var (
	_ Logger = (*NopLogger)(nil)
	_ Logger = (*LogrusLogger)(nil)
)
