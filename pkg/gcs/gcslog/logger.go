// Package gcslog adapts the teacher's small leveled-logger interface to
// logrus, so the components that log (the replication core and the
// lifecycle controller) take a Logger through their config instead of
// reaching for a package-global.
package gcslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled logging interface those components depend on.
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	ToggleDebug(bool) bool
}

// logrusLogger is the default Logger, used whenever the caller does not
// provide its own implementation.
type logrusLogger struct {
	entry *logrus.Entry
	base  *logrus.Logger
}

// New builds a default Logger writing to stderr in logrus's text format,
// optionally pre-populated with fields (node id, partition name, ...) that
// will be attached to every subsequent line.
func New(fields logrus.Fields) Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
	return &logrusLogger{entry: base.WithFields(fields), base: base}
}

func (l *logrusLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *logrusLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *logrusLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *logrusLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }

func (l *logrusLogger) ToggleDebug(on bool) bool {
	if on {
		l.base.SetLevel(logrus.DebugLevel)
	} else {
		l.base.SetLevel(logrus.InfoLevel)
	}
	return on
}
