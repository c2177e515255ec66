package app

import (
	"fmt"
	"io"
	"os"
)

// Logger interface for app layer
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// stderrLogger writes prefixed lines to a single writer
type stderrLogger struct {
	output io.Writer
	quiet  bool
}

// NewLogger creates a logger writing to the given output.
// When quiet is true, Debug messages are suppressed.
func NewLogger(output io.Writer, quiet bool) Logger {
	if output == nil {
		output = os.Stderr
	}
	return &stderrLogger{output: output, quiet: quiet}
}

func (l *stderrLogger) Debug(format string, args ...interface{}) {
	if l.quiet {
		return
	}
	fmt.Fprintf(l.output, "DEBUG: "+format+"\n", args...)
}

func (l *stderrLogger) Info(format string, args ...interface{}) {
	fmt.Fprintf(l.output, "INFO: "+format+"\n", args...)
}

func (l *stderrLogger) Warn(format string, args ...interface{}) {
	fmt.Fprintf(l.output, "WARN: "+format+"\n", args...)
}

func (l *stderrLogger) Error(format string, args ...interface{}) {
	fmt.Fprintf(l.output, "ERROR: "+format+"\n", args...)
}

// NopLogger discards all messages. Useful in tests.
type NopLogger struct{}

func (NopLogger) Debug(format string, args ...interface{}) {}
func (NopLogger) Info(format string, args ...interface{})  {}
func (NopLogger) Warn(format string, args ...interface{})  {}
func (NopLogger) Error(format string, args ...interface{}) {}
