package log

// NoopLogger implements Logger by discarding all log messages.
type NoopLogger struct{}

// NewNoopLogger creates a new no-op logger.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// Debug discards the message.
func (NoopLogger) Debug(string, ...Field) {}

// Info discards the message.
func (NoopLogger) Info(string, ...Field) {}

// Warn discards the message.
func (NoopLogger) Warn(string, ...Field) {}

// Error discards the message.
func (NoopLogger) Error(string, ...Field) {}

// With returns the same no-op logger.
func (n NoopLogger) With(...Field) Logger { return n }

// OrNoop returns l, or a no-op logger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
