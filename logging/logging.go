// Package logging provides the small logging contract shared by the SDK
// categories. Components accept a Logger rather than importing a logging
// implementation, so applications can bridge to whatever they already use.
package logging

import (
	"fmt"
	"io"
	"os"
)

// Logger is the minimal leveled logger the SDK writes to.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// stdLogger writes prefixed lines to a writer.
type stdLogger struct {
	prefix string
	out    io.Writer
	debug  bool
}

// Default returns a Logger that writes prefixed lines to stderr.
// Debug output is suppressed; use Verbose for a build that includes it.
// Example:
//
//	log := logging.Default("AUTH")
//	log.Info("signed in as %s", username)
func Default(prefix string) Logger {
	return &stdLogger{prefix: prefix, out: os.Stderr}
}

// Verbose returns a Logger like Default that also emits Debug lines.
func Verbose(prefix string) Logger {
	return &stdLogger{prefix: prefix, out: os.Stderr, debug: true}
}

// NewWriterLogger returns a Logger writing to an arbitrary writer.
// Intended for tests that capture output.
func NewWriterLogger(prefix string, out io.Writer) Logger {
	return &stdLogger{prefix: prefix, out: out, debug: true}
}

func (l *stdLogger) Debug(format string, args ...any) {
	if !l.debug {
		return
	}
	l.write("DBG", format, args...)
}

func (l *stdLogger) Info(format string, args ...any) {
	l.write("INF", format, args...)
}

func (l *stdLogger) Warn(format string, args ...any) {
	l.write("WRN", format, args...)
}

func (l *stdLogger) Error(format string, args ...any) {
	l.write("ERR", format, args...)
}

func (l *stdLogger) write(level, format string, args ...any) {
	fmt.Fprintf(l.out, "[%s] %s %s\n", level, l.prefix, fmt.Sprintf(format, args...))
}

// nopLogger drops everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a Logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns l when non-nil, otherwise the no-op logger. Components call
// this once at construction so nil loggers are safe everywhere else.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
