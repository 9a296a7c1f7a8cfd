package mtls12

import (
	"log"
	"os"
)

// Logger receives diagnostic output from a connection. It is deliberately
// minimal — most callers either ignore it or point it at their own
// structured logger via a small adapter.
type Logger interface {
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...any) {}
func (nopLogger) Errorf(format string, args ...any) {}

// StdLogger adapts the standard library's log.Logger to the Logger
// interface, for callers that just want handshake activity on stderr.
type StdLogger struct {
	*log.Logger
}

// NewStdLogger returns a StdLogger writing to os.Stderr with a "mtls12: "
// prefix.
func NewStdLogger() *StdLogger {
	return &StdLogger{Logger: log.New(os.Stderr, "mtls12: ", log.LstdFlags)}
}

func (l *StdLogger) Debugf(format string, args ...any) {
	l.Printf("debug: "+format, args...)
}

func (l *StdLogger) Errorf(format string, args ...any) {
	l.Printf("error: "+format, args...)
}
