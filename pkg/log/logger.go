package log

// Logger defines a standard interface for logging.
// Every component receives its Logger at construction; nothing logs through
// package-level state.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	// WithField returns a Logger that appends key=value to every entry.
	WithField(key string, value interface{}) Logger
}
