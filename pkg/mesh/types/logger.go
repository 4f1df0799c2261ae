package types

// Logger is the logging contract every mesh component depends on. It is
// intentionally narrow and printf-shaped so that any backend (zap, a test
// logger, stdlib log) can satisfy it without an adapter layer leaking
// backend-specific types into the rest of the module.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	// ToggleDebug flips debug-level output and returns the new state.
	ToggleDebug(value bool) bool

	// With returns a child logger tagging every line with a component
	// name, e.g. log.With("routing").
	With(component string) Logger
}
