// Package logging provides the bracketed-component log prefix used
// throughout the runtime (e.g. "[STORE]", "[BLACKBOARD]", "[NATS]"),
// matching the convention the teacher project uses in internal/events,
// internal/nats, and internal/memory.
package logging

import "log"

// Logger writes component-tagged lines via the standard logger.
type Logger struct {
	component string
}

// New returns a Logger tagging every line with "[component]".
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	log.Printf("[%s] "+format, append([]interface{}{l.component}, args...)...)
}

func (l *Logger) Println(args ...interface{}) {
	log.Println(append([]interface{}{"[" + l.component + "]"}, args...)...)
}
