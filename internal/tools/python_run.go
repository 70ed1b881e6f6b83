package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// PythonRunTool executes a snippet with the system python3 interpreter and
// returns the combined output.
type PythonRunTool struct {
	timeout time.Duration
}

func NewPythonRunTool(timeout time.Duration) *PythonRunTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PythonRunTool{timeout: timeout}
}

func (t *PythonRunTool) Name() string { return "python_run" }

func (t *PythonRunTool) Description() string {
	return "Execute a Python code snippet with python3 and return its output. Use print() to produce output."
}

func (t *PythonRunTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code": map[string]interface{}{
				"type":        "string",
				"description": "Python source to execute.",
			},
		},
		"required": []string{"code"},
	}
}

func (t *PythonRunTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	code, _ := args["code"].(string)
	if code == "" {
		return ErrorResult("code is required")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "python3", "-c", code)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var output string
	if stdout.Len() > 0 {
		output = stdout.String()
	}
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("python timed out after %s", t.timeout))
		}
		if output == "" {
			output = err.Error()
		}
		return ErrorResult(output)
	}
	if output == "" {
		output = "(no output)"
	}
	return NewResult(output)
}
