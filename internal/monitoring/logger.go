// Package monitoring holds the process-wide operational logger used by the
// assessment engine and its services.
package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level operational logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or embedding code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput routes the package logger to w with standard timestamp flags.
// Passing nil mutes the logger.
func SetOutput(w io.Writer) {
	if w == nil {
		SetLogger(nil)
		return
	}
	l := log.New(w, "", log.LstdFlags)
	Logf = l.Printf
}
