package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewDiscardLogger returns a Logger that writes to io.Discard, for use in
// tests that need a real Logger implementation without polluting test
// output.
func NewDiscardLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}
