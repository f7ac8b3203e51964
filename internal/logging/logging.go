// Package logging is a thin leveled wrapper over the standard log package.
//
// The teacher this module is built from logs with bare log.Printf /
// log.Fatalf call sites throughout; this wrapper adds just enough
// structure (a component prefix, a level tag) for a multi-package core
// to stay distinguishable in combined output, without introducing a
// structured logging dependency the teacher itself never reaches for.
package logging

import (
	"log"
	"os"
)

// Logger prefixes every line with a component name and level.
type Logger struct {
	component string
	std       *log.Logger
}

// New creates a Logger for component, writing to stderr like the
// standard library default.
func New(component string) *Logger {
	return &Logger{
		component: component,
		std:       log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf("[%s] INFO  "+format, prepend(l.component, args)...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf("[%s] WARN  "+format, prepend(l.component, args)...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf("[%s] ERROR "+format, prepend(l.component, args)...)
}

func prepend(component string, args []any) []any {
	out := make([]any, 0, len(args)+1)
	out = append(out, component)
	return append(out, args...)
}
