package logger

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	// ErrorWithCode starts an error event carrying err and its error code.
	ErrorWithCode(err error) *LogEvent
	// With returns a child logger tagged with component.
	With(component string) Logger
}
