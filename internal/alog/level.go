// Package alog provides the agent's process-wide leveled logger.
//
// It is distinct from the per-build logger in internal/buildlog: this
// package logs the agent's own operational activity (startup, polling,
// git errors) to the console, while buildlog records the build's own
// output and lifecycle events to disk.
package alog

import "fmt"

// Level is a logging severity, ordered from most to least verbose.
type Level int

const (
	DEBUG Level = iota
	TRACE
	INFO
	NOTICE
	WARN
	ERROR
)

var levelNames = []string{"DEBUG", "TRACE", "INFO", "NOTICE", "WARN", "ERROR"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// LevelFromString parses a case-insensitive level name.
func LevelFromString(s string) (Level, error) {
	for i, name := range levelNames {
		if equalFold(name, s) {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("alog: invalid level %q", s)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
