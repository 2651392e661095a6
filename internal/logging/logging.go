// Package logging provides the small leveled wrapper around the standard
// library logger used throughout the adapter.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Logger tags every line with a subsystem name, matching the
// log.Printf("DAP transport error ...") style the rest of the codebase
// already uses rather than pulling in a structured logging library.
type Logger struct {
	tag    string
	std    *log.Logger
	silent bool
}

// New creates a Logger that writes to stderr, tagged with subsystem.
func New(subsystem string) *Logger {
	return &Logger{
		tag: subsystem,
		std: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// NewWithOutput creates a Logger writing through an existing *log.Logger,
// useful for tests that want to capture output.
func NewWithOutput(subsystem string, std *log.Logger) *Logger {
	return &Logger{tag: subsystem, std: std}
}

// Sub returns a child logger that shares the same output but prefixes
// its own subsystem name after the parent's, e.g. "target/thread".
func (l *Logger) Sub(subsystem string) *Logger {
	return &Logger{tag: l.tag + "/" + subsystem, std: l.std, silent: l.silent}
}

// Silence disables all output; used by tests that expect silent-error
// paths (§7) to not spam test logs.
func (l *Logger) Silence(v bool) { l.silent = v }

func (l *Logger) logf(level, format string, args ...interface{}) {
	if l.silent {
		return
	}
	l.std.Printf("[%s] %s: %s", level, l.tag, fmt.Sprintf(format, args...))
}

// Debugf logs low-level protocol chatter; cheap to leave compiled in,
// callers gate on verbosity themselves where it matters.
func (l *Logger) Debugf(format string, args ...interface{}) { l.logf("debug", format, args...) }

// Infof logs a normal lifecycle event.
func (l *Logger) Infof(format string, args ...interface{}) { l.logf("info", format, args...) }

// Warnf logs a recoverable problem — used for spec.md §7 "silent
// errors" (source-map fetch/parse failure, stale-pause lookups): logged,
// never surfaced to the DAP client.
func (l *Logger) Warnf(format string, args ...interface{}) { l.logf("warn", format, args...) }

// Errorf logs a problem that is about to be surfaced to the caller too.
func (l *Logger) Errorf(format string, args ...interface{}) { l.logf("error", format, args...) }
