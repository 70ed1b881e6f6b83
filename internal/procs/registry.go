// Package procs tracks long-running child processes started by agent
// tools, capturing their combined output into bounded per-pid ring
// buffers.
package procs

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// maxLogLines bounds the per-process log ring.
const maxLogLines = 200

// Entry is one tracked child process.
type Entry struct {
	Pid     int
	Command string

	mu       sync.Mutex
	lines    []string
	exited   bool
	exitCode int

	cmd  *exec.Cmd
	done chan struct{}
}

func (e *Entry) appendLine(line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lines = append(e.lines, line)
	if len(e.lines) > maxLogLines {
		e.lines = e.lines[len(e.lines)-maxLogLines:]
	}
}

// Tail returns the last n captured lines.
func (e *Entry) Tail(n int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.lines) {
		n = len(e.lines)
	}
	out := make([]string, n)
	copy(out, e.lines[len(e.lines)-n:])
	return out
}

// ExitState reports whether the process has exited and its exit code.
func (e *Entry) ExitState() (bool, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exited, e.exitCode
}

// Registry is the process table. All operations on an unknown pid return
// an error.
type Registry struct {
	mu      sync.Mutex
	entries map[int]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[int]*Entry)}
}

// Start launches command under the shell and begins capturing its output
// line by line. Returns the child pid.
func (r *Registry) Start(command string) (int, error) {
	cmd := exec.Command("/bin/sh", "-c", command)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start process: %w", err)
	}

	entry := &Entry{
		Pid:     cmd.Process.Pid,
		Command: command,
		cmd:     cmd,
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	r.entries[entry.Pid] = entry
	r.mu.Unlock()

	go r.readLoop(entry, stdout)

	slog.Info("process started", "pid", entry.Pid, "command", command)
	return entry.Pid, nil
}

func (r *Registry) readLoop(entry *Entry, out io.Reader) {
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry.appendLine(scanner.Text())
	}

	err := entry.cmd.Wait()
	code := 0
	if err != nil {
		code = entry.cmd.ProcessState.ExitCode()
	}

	entry.mu.Lock()
	entry.exited = true
	entry.exitCode = code
	entry.mu.Unlock()
	close(entry.done)

	slog.Info("process exited", "pid", entry.Pid, "code", code)
}

// Read returns the last n log lines for pid, joined by newlines.
func (r *Registry) Read(pid, n int) (string, error) {
	entry, err := r.lookup(pid)
	if err != nil {
		return "", err
	}
	return strings.Join(entry.Tail(n), "\n"), nil
}

// Stop terminates pid and waits for the reader to finish.
func (r *Registry) Stop(pid int) error {
	entry, err := r.lookup(pid)
	if err != nil {
		return err
	}

	if exited, _ := entry.ExitState(); !exited {
		if err := entry.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill pid %d: %w", pid, err)
		}
	}
	<-entry.done

	r.mu.Lock()
	delete(r.entries, pid)
	r.mu.Unlock()
	return nil
}

// StopAll terminates every tracked process. Used on daemon shutdown.
func (r *Registry) StopAll() {
	for _, pid := range r.Pids() {
		if err := r.Stop(pid); err != nil {
			slog.Warn("stop process failed", "pid", pid, "error", err)
		}
	}
}

// Get returns the entry for pid.
func (r *Registry) Get(pid int) (*Entry, error) {
	return r.lookup(pid)
}

// Pids lists the tracked process ids.
func (r *Registry) Pids() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	pids := make([]int, 0, len(r.entries))
	for pid := range r.entries {
		pids = append(pids, pid)
	}
	return pids
}

func (r *Registry) lookup(pid int) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[pid]
	if !ok {
		return nil, fmt.Errorf("no such process: %d", pid)
	}
	return entry, nil
}
