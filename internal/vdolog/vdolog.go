// Package vdolog gives the rest of the module the keyval logging call
// convention the teacher's own internal log package uses (see
// miner/worker.go, les/backend.go: log.Info("msg", "k", v, ...)). The
// teacher's package itself never made it into the retrieval pack, so
// this wraps go.uber.org/zap's SugaredLogger instead of re-deriving a
// logger from nothing.
package vdolog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once sync.Once
	base *zap.SugaredLogger
)

func root() *zap.SugaredLogger {
	once.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		base = l.Sugar()
	})
	return base
}

// Logger is a named, keyval-style logger, e.g. one per hash zone or the
// journal.
type Logger struct {
	s *zap.SugaredLogger
}

// New returns a Logger tagged with name, the way each hash zone or the
// journal would identify itself in a log line.
func New(name string) *Logger {
	return &Logger{s: root().With("component", name)}
}

func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{s: l.s.With(keyvals...)}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }

// Sync flushes any buffered log lines, matching zap's shutdown convention.
func (l *Logger) Sync() error { return l.s.Sync() }
