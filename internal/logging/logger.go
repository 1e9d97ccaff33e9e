// Package logging provides the structured logger every other package in
// this module depends on rather than calling the standard log package or a
// global logrus instance directly.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal levelled-logging surface the rest of the module
// depends on. Components take a Logger through their constructor; nothing
// reaches for a package-level logger.
type Logger interface {
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	// With returns a derived Logger that tags every line with the given
	// fields, e.g. node_id and peer_id.
	With(fields Fields) Logger
}

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]interface{}

type logrusLogger struct {
	entry *logrus.Entry
}

// NewDefault returns the module's default Logger: logrus, text formatter,
// timestamps on, writing to stderr.
func NewDefault() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewDebug is NewDefault with debug-level lines enabled, used by the
// --debug CLI flag.
func NewDebug() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.DebugLevel)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *logrusLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusLogger) With(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// Noop is a Logger that discards everything; useful in tests that don't
// want log noise.
func Noop() Logger { return noop{} }

type noop struct{}

func (noop) Info(args ...interface{})                  {}
func (noop) Infof(format string, args ...interface{})  {}
func (noop) Warn(args ...interface{})                  {}
func (noop) Warnf(format string, args ...interface{})  {}
func (noop) Error(args ...interface{})                 {}
func (noop) Errorf(format string, args ...interface{}) {}
func (noop) Debug(args ...interface{})                 {}
func (noop) Debugf(format string, args ...interface{}) {}
func (n noop) With(Fields) Logger                      { return n }
