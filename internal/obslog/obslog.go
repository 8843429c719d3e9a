// Package obslog is a thin wrapper over the standard library logger that
// keeps the teacher's bracketed-component-tag convention
// (log.Printf("[Binance] ...")) instead of introducing a structured logging
// library the example pack never imports.
package obslog

import (
	"log"
	"os"
)

// Logger tags every line with a component name, e.g. "[tracker]".
type Logger struct {
	tag string
	std *log.Logger
}

// New returns a Logger for the given component tag.
func New(component string) *Logger {
	return &Logger{
		tag: "[" + component + "] ",
		std: log.New(os.Stdout, "", log.LstdFlags),
	}
}

func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf(l.tag+format, args...)
}

func (l *Logger) Println(args ...any) {
	all := append([]any{l.tag}, args...)
	l.std.Println(all...)
}

// With returns a child Logger tagged "component.sub".
func (l *Logger) With(sub string) *Logger {
	return &Logger{tag: l.tag[:len(l.tag)-2] + "." + sub + "] ", std: l.std}
}
