// Package vlog provides the line-oriented log sink used across the
// bridge: one line per state transition and per error, as required by
// the session supervisor and bridge pump.
package vlog

import (
	"io"
	"log"
	"os"
)

// StdLogger is the default logger, writing to stderr with the standard
// date/time prefix.
var StdLogger = log.New(os.Stderr, "", log.LstdFlags)

// Logger is the line-oriented sink used by the rest of the bridge.
//
// It wraps a *log.Logger so callers can redirect output (e.g. to
// log_file) without every package depending on os.Stderr directly.
type Logger struct {
	*log.Logger
}

// New returns a Logger writing to w, or StdLogger if w is nil.
func New(w io.Writer) *Logger {
	if w == nil {
		return &Logger{StdLogger}
	}
	return &Logger{log.New(w, "", log.LstdFlags)}
}

// Default wraps StdLogger.
func Default() *Logger { return &Logger{StdLogger} }

// Transition logs a state-machine transition line.
func (l *Logger) Transition(component, from, to string) {
	l.Printf("%s: %s -> %s", component, from, to)
}

// Error logs an error line tagged with the component that observed it.
func (l *Logger) Error(component string, err error) {
	l.Printf("%s: error: %s", component, err)
}
