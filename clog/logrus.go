package clog

import "github.com/sirupsen/logrus"

// LogrusProvider adapts a *logrus.Entry to LogProvider so cmd/pbcdlcomm can
// wire structured, leveled logging into every package without those
// packages importing logrus themselves.
type LogrusProvider struct {
	entry *logrus.Entry
}

var _ LogProvider = LogrusProvider{}

// NewLogrusProvider builds a LogProvider backed by logger, tagging every
// message with a "component" field.
func NewLogrusProvider(logger *logrus.Logger, component string) LogrusProvider {
	return LogrusProvider{entry: logger.WithField("component", component)}
}

func (sf LogrusProvider) Critical(format string, v ...interface{}) {
	sf.entry.Logf(logrus.ErrorLevel, "[CRITICAL] "+format, v...)
}

func (sf LogrusProvider) Error(format string, v ...interface{}) {
	sf.entry.Errorf(format, v...)
}

func (sf LogrusProvider) Warn(format string, v ...interface{}) {
	sf.entry.Warnf(format, v...)
}

func (sf LogrusProvider) Debug(format string, v ...interface{}) {
	sf.entry.Debugf(format, v...)
}
