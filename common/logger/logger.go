// Package logger is a thin convenience wrapper around logrus, used by
// every Governor component so that log lines carry a consistent "prefix"
// field identifying the subsystem that emitted them.
package logger

import (
	"github.com/sirupsen/logrus"
)

// Log is a logrus.Entry pre-seeded with a "prefix" field.
type Log struct {
	logrus.Entry
}

// New returns a Log that tags every line with defaultPrefix (e.g. "device",
// "controller", "pvbus").
func New(baseLogger *logrus.Logger, defaultPrefix string) *Log {
	l := new(Log)
	l.Logger = baseLogger
	l.Data = make(logrus.Fields, 5)
	l.Data["prefix"] = defaultPrefix
	return l
}

// WithPrefix overrides the subsystem prefix on a derived entry, for
// components that multiplex several named instances (e.g. one Machine
// name per log line under the "controller" prefix).
func (l *Log) WithPrefix(prefix string) *logrus.Entry {
	return l.WithField("prefix", prefix)
}

// WithMachine tags a line with the owning Machine's name.
func (l *Log) WithMachine(name string) *logrus.Entry {
	return l.WithField("machine", name)
}

// WithDevice tags a line with a Device key, nested under its Machine.
func (l *Log) WithDevice(machine, device string) *logrus.Entry {
	return l.WithField("machine", machine).WithField("device", device)
}
