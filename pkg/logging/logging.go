// Package logging defines a logger interface decoupled from any concrete
// logging backend so the rest of the tree never imports logrus directly.
package logging

import (
	"io"
)

// Logger is a flexible logging interface that can be implemented by logrus,
// slog, or a recording logger used in tests.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Printf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Print(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})

	// Writer returns a PipeWriter that writes lines to the logger at Info
	// level; callers must close it when done.
	Writer() *io.PipeWriter
}
