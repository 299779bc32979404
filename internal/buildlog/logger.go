// Package buildlog implements the per-build log streams (spec component
// C3): a raw, unfiltered `logs-<buildId>.txt` capturing combined subprocess
// output, and a level-filtered `events-<buildId>.txt` capturing structured
// agent activity. Both are simple append-only files opened once per build
// and closed exactly once; writer failures are swallowed, the way journal
// writes are (internal/journal), since a logging failure must never break
// a build.
package buildlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger owns a build's two log files.
type Logger struct {
	level Level

	mu         sync.Mutex
	logsFile   *os.File
	eventsFile *os.File
	closed     bool
}

// Open creates (or appends to, if somehow pre-existing) the two log files
// for buildID under dir, which is expected to be a build's logs/ directory
// (journal.Journal.BuildDir(id) + "logs").
func Open(dir, buildID string, level Level) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("buildlog: create %s: %w", dir, err)
	}

	logsFile, err := os.OpenFile(filepath.Join(dir, "logs-"+buildID+".txt"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("buildlog: open logs file: %w", err)
	}
	eventsFile, err := os.OpenFile(filepath.Join(dir, "events-"+buildID+".txt"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logsFile.Close()
		return nil, fmt.Errorf("buildlog: open events file: %w", err)
	}

	return &Logger{level: level, logsFile: logsFile, eventsFile: eventsFile}, nil
}

// WriteLog appends a raw chunk of subprocess output, unfiltered.
func (l *Logger) WriteLog(chunk string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	io.WriteString(l.logsFile, chunk)
}

// Event writes a structured line to the events file iff level is at or
// under the logger's configured threshold.
func (l *Logger) Event(level Level, format string, v ...any) {
	if level > l.level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	line := fmt.Sprintf("%s %-5s %s\n", time.Now().Format("2006-01-02 15:04:05"), level, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	io.WriteString(l.eventsFile, line)
}

func (l *Logger) Error(format string, v ...any) { l.Event(ERROR, format, v...) }
func (l *Logger) Info(format string, v ...any)  { l.Event(INFO, format, v...) }
func (l *Logger) Debug(format string, v ...any) { l.Event(DEBUG, format, v...) }
func (l *Logger) Trace(format string, v ...any) { l.Event(TRACE, format, v...) }

// Close closes both files. Idempotent: a second call is a no-op.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	err1 := l.logsFile.Close()
	err2 := l.eventsFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
