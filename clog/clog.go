// Package clog is a small, dependency-light logging facade used throughout
// pbcdlcomm. Every package logs through a clog.Clog value; the concrete
// backend (stdlib log.Logger by default, logrus when wired by cmd/pbcdlcomm)
// is swapped in once, at process start, without touching call sites.
package clog

import (
	"log"
	"os"
	"sync/atomic"
)

// LogProvider is the minimal leveled-logging contract a backend must
// satisfy. Levels follow the subset of RFC5424 that the PakBus session and
// collection loop actually need: Critical, Error, Warn, Debug.
type LogProvider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Clog wraps a LogProvider with a cheap enable/disable switch so hot paths
// (e.g. per-record decode warnings) don't pay formatting cost when logging
// is off.
type Clog struct {
	component string
	provider  LogProvider
	has       uint32 // 1: enabled, 0: disabled
}

// NewLogger creates a Clog for the named component, backed by the stdlib
// logger writing to stdout.
func NewLogger(component string) Clog {
	return Clog{
		component: component,
		provider:  defaultLogger{log.New(os.Stdout, component+": ", log.LstdFlags)},
	}
}

// LogMode enables or disables log output.
func (sf *Clog) LogMode(enable bool) {
	if enable {
		atomic.StoreUint32(&sf.has, 1)
	} else {
		atomic.StoreUint32(&sf.has, 0)
	}
}

// SetLogProvider swaps the backend. Nil is ignored.
func (sf *Clog) SetLogProvider(p LogProvider) {
	if p != nil {
		sf.provider = p
	}
}

// Component returns the name this logger was created with.
func (sf Clog) Component() string {
	return sf.component
}

// Critical logs a CRITICAL level message.
func (sf Clog) Critical(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Critical(format, v...)
	}
}

// Error logs an ERROR level message.
func (sf Clog) Error(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Error(format, v...)
	}
}

// Warn logs a WARN level message.
func (sf Clog) Warn(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Warn(format, v...)
	}
}

// Debug logs a DEBUG level message.
func (sf Clog) Debug(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Debug(format, v...)
	}
}

// defaultLogger adapts the stdlib logger to LogProvider.
type defaultLogger struct {
	*log.Logger
}

var _ LogProvider = (*defaultLogger)(nil)

func (sf defaultLogger) Critical(format string, v ...interface{}) {
	sf.Printf("[C]: "+format, v...)
}

func (sf defaultLogger) Error(format string, v ...interface{}) {
	sf.Printf("[E]: "+format, v...)
}

func (sf defaultLogger) Warn(format string, v ...interface{}) {
	sf.Printf("[W]: "+format, v...)
}

func (sf defaultLogger) Debug(format string, v ...interface{}) {
	sf.Printf("[D]: "+format, v...)
}
