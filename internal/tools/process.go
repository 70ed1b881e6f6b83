package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/crewd/internal/procs"
)

// ProcessStartTool launches a background shell command and returns its pid.
type ProcessStartTool struct {
	registry *procs.Registry
}

func NewProcessStartTool(registry *procs.Registry) *ProcessStartTool {
	return &ProcessStartTool{registry: registry}
}

func (t *ProcessStartTool) Name() string { return "process_start" }

func (t *ProcessStartTool) Description() string {
	return "Start a long-running shell command in the background. Returns the pid to use with process_read and process_stop."
}

func (t *ProcessStartTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to run in the background.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ProcessStartTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}
	pid, err := t.registry.Start(command)
	if err != nil {
		return ErrorResult(fmt.Sprintf("start process: %v", err)).WithError(err)
	}
	// The command keeps producing output after this returns; poll it
	// with process_read.
	return AsyncResult(fmt.Sprintf("started background process pid=%d", pid))
}

// ProcessReadTool tails the captured output of a background process.
type ProcessReadTool struct {
	registry *procs.Registry
}

func NewProcessReadTool(registry *procs.Registry) *ProcessReadTool {
	return &ProcessReadTool{registry: registry}
}

func (t *ProcessReadTool) Name() string { return "process_read" }

func (t *ProcessReadTool) Description() string {
	return "Read the most recent output lines of a background process."
}

func (t *ProcessReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pid": map[string]interface{}{
				"type":        "integer",
				"description": "Pid returned by process_start.",
			},
			"lines": map[string]interface{}{
				"type":        "integer",
				"description": "Number of trailing lines to return. Default 50.",
			},
		},
		"required": []string{"pid"},
	}
}

func (t *ProcessReadTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	pid, ok := intArg(args, "pid")
	if !ok {
		return ErrorResult("pid is required")
	}
	lines := 50
	if n, ok := intArg(args, "lines"); ok && n > 0 {
		lines = n
	}

	output, err := t.registry.Read(pid, lines)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	var sb strings.Builder
	if entry, err := t.registry.Get(pid); err == nil {
		if exited, code := entry.ExitState(); exited {
			fmt.Fprintf(&sb, "[process %d exited with code %d]\n", pid, code)
		} else {
			fmt.Fprintf(&sb, "[process %d running]\n", pid)
		}
	}
	if output == "" {
		sb.WriteString("(no output yet)")
	} else {
		sb.WriteString(output)
	}
	return NewResult(sb.String())
}

// ProcessStopTool terminates a background process.
type ProcessStopTool struct {
	registry *procs.Registry
}

func NewProcessStopTool(registry *procs.Registry) *ProcessStopTool {
	return &ProcessStopTool{registry: registry}
}

func (t *ProcessStopTool) Name() string { return "process_stop" }

func (t *ProcessStopTool) Description() string {
	return "Stop a background process started with process_start."
}

func (t *ProcessStopTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pid": map[string]interface{}{
				"type":        "integer",
				"description": "Pid returned by process_start.",
			},
		},
		"required": []string{"pid"},
	}
}

func (t *ProcessStopTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	pid, ok := intArg(args, "pid")
	if !ok {
		return ErrorResult("pid is required")
	}
	if err := t.registry.Stop(pid); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(fmt.Sprintf("process %d stopped", pid))
}

func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
