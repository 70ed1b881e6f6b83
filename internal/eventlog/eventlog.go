// Package eventlog persists every bus message as an append-only JSONL
// archive. The kernel replays it for structural recovery.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/crewd/internal/bus"
)

// Logger appends serialized message envelopes to a session file, one JSON
// object per line, each with a UTC timestamp.
type Logger struct {
	mu   sync.Mutex
	path string
}

func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	return &Logger{path: filepath.Join(dir, "current_session.jsonl")}, nil
}

// Path returns the current session file path.
func (l *Logger) Path() string { return l.path }

// Log appends one event. A timestamp is injected when absent. Write
// failures are logged, not propagated: logging must never fail a publish.
func (l *Logger) Log(msg bus.Message) {
	msg = msg.Stamped()

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("eventlog: marshal failed", "type", msg.Type, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("eventlog: open failed", "path", l.path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		slog.Error("eventlog: write failed", "error", err)
	}
}

// All returns every archived event in append order. Undecodable lines are
// skipped with a warning.
func (l *Logger) All() []bus.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("eventlog: open for read failed", "error", err)
		}
		return nil
	}
	defer f.Close()

	var events []bus.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg bus.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("eventlog: skipping undecodable line", "error", err)
			continue
		}
		events = append(events, msg)
	}
	return events
}

// Clear removes the session file. Used by tests and fresh sessions.
func (l *Logger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
