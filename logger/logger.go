// Package logger provides the logrus-backed implementation of
// statspipe.Logger handed to plugins.
package logger

import (
	"github.com/sirupsen/logrus"

	"github.com/statspipe/statspipe"
)

// New returns a logger scoped to the given component, e.g. "inputs.statsd".
func New(component string) statspipe.Logger {
	return &entryLogger{entry: logrus.WithField("component", component)}
}

// SetLevel configures the process-wide log level from its string name.
// Unknown names fall back to info.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

type entryLogger struct {
	entry *logrus.Entry
}

func (l *entryLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *entryLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *entryLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *entryLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *entryLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *entryLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *entryLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *entryLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }

var _ statspipe.Logger = (*entryLogger)(nil)
