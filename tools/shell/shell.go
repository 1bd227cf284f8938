// Package shell implements the worker shell tool. Commands run inside the
// agent's workspace; the workspace root is the confinement boundary.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	spacebot "github.com/nevindra/spacebot"
)

// Tool executes shell commands in the agent workspace.
type Tool struct {
	workspace      string
	defaultTimeout int // seconds
}

// New creates a shell tool rooted at workspace.
func New(workspace string, defaultTimeout int) *Tool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30
	}
	return &Tool{workspace: workspace, defaultTimeout: defaultTimeout}
}

func (t *Tool) Definitions() []spacebot.ToolDefinition {
	return []spacebot.ToolDefinition{{
		Name:        "shell",
		Description: "Execute a shell command in the workspace directory. Returns stdout and stderr.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"},"timeout":{"type":"integer","description":"Timeout in seconds (default 30, max 300)"}},"required":["command"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (spacebot.ToolResult, error) {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return spacebot.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Command == "" {
		return spacebot.ToolResult{Error: "command is required"}, nil
	}

	timeout := t.defaultTimeout
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	if timeout > 300 {
		timeout = 300
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = t.workspace
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var parts []string
	if stdout.Len() > 0 {
		parts = append(parts, stdout.String())
	}
	if stderr.Len() > 0 {
		parts = append(parts, "stderr:\n"+stderr.String())
	}
	output := strings.Join(parts, "\n")

	if cmdCtx.Err() == context.DeadlineExceeded {
		return spacebot.ToolResult{Error: fmt.Sprintf("command timed out after %ds", timeout)}, nil
	}
	if err != nil {
		msg := err.Error()
		if output != "" {
			msg += "\n" + output
		}
		return spacebot.ToolResult{Error: spacebot.TruncateOutput(msg, spacebot.MaxToolOutputBytes)}, nil
	}
	if output == "" {
		output = "(no output)"
	}
	return spacebot.ToolResult{Content: spacebot.TruncateOutput(output, spacebot.MaxToolOutputBytes)}, nil
}
