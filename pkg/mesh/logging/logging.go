// Package logging implements types.Logger on top of zap, the ambient
// logging stack this module carries regardless of which domain features
// are in scope.
//
// Directly adapted from the teacher's pkg/mcast/definition.DefaultLogger:
// same method set, same debug-toggle semantics, same level-prefixed shape
// of a message, but backed by zap's SugaredLogger instead of a bare
// stdlib *log.Logger, since the rest of this module's ambient stack
// (config, CLI) already favors real third-party libraries over stdlib
// equivalents.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// ZapLogger adapts a zap.SugaredLogger to types.Logger.
type ZapLogger struct {
	base    *zap.Logger
	sugar   *zap.SugaredLogger
	atom    zap.AtomicLevel
	debug   bool
}

// New builds a ZapLogger writing structured, level-prefixed console output,
// mirroring the teacher's stderr-targeted default logger but with zap's
// richer encoding.
func New() *ZapLogger {
	atom := zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), atom)
	base := zap.New(core)
	return &ZapLogger{base: base, sugar: base.Sugar(), atom: atom}
}

func (l *ZapLogger) Info(v ...interface{})                    { l.sugar.Info(v...) }
func (l *ZapLogger) Infof(format string, v ...interface{})    { l.sugar.Infof(format, v...) }
func (l *ZapLogger) Warn(v ...interface{})                    { l.sugar.Warn(v...) }
func (l *ZapLogger) Warnf(format string, v ...interface{})    { l.sugar.Warnf(format, v...) }
func (l *ZapLogger) Error(v ...interface{})                   { l.sugar.Error(v...) }
func (l *ZapLogger) Errorf(format string, v ...interface{})   { l.sugar.Errorf(format, v...) }
func (l *ZapLogger) Fatal(v ...interface{})                   { l.sugar.Fatal(v...) }
func (l *ZapLogger) Fatalf(format string, v ...interface{})   { l.sugar.Fatalf(format, v...) }

func (l *ZapLogger) Debug(v ...interface{}) {
	if l.debug {
		l.sugar.Debug(v...)
	}
}

func (l *ZapLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.sugar.Debugf(format, v...)
	}
}

// ToggleDebug flips the atomic level between Info and Debug, matching the
// teacher's ToggleDebug contract.
func (l *ZapLogger) ToggleDebug(value bool) bool {
	l.debug = value
	if value {
		l.atom.SetLevel(zap.DebugLevel)
	} else {
		l.atom.SetLevel(zap.InfoLevel)
	}
	return l.debug
}

// With returns a child logger tagging every line with a component name.
func (l *ZapLogger) With(component string) types.Logger {
	return &ZapLogger{
		base:  l.base,
		sugar: l.base.Sugar().With("component", component),
		atom:  l.atom,
		debug: l.debug,
	}
}

// Sync flushes any buffered log entries, mirroring zap.Logger.Sync for
// callers that want to drain output before process exit.
func (l *ZapLogger) Sync() error { return l.base.Sync() }

var _ types.Logger = (*ZapLogger)(nil)
