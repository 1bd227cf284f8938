// Package exec implements the worker exec tool: run a program with
// arguments directly (no shell), confined to the workspace.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	osexec "os/exec"
	"strings"
	"time"

	spacebot "github.com/nevindra/spacebot"
)

// Tool runs programs in the agent workspace.
type Tool struct {
	workspace      string
	defaultTimeout int
}

// New creates an exec tool rooted at workspace.
func New(workspace string, defaultTimeout int) *Tool {
	if defaultTimeout <= 0 {
		defaultTimeout = 60
	}
	return &Tool{workspace: workspace, defaultTimeout: defaultTimeout}
}

func (t *Tool) Definitions() []spacebot.ToolDefinition {
	return []spacebot.ToolDefinition{{
		Name:        "exec",
		Description: "Run a program with arguments (no shell interpretation). Use shell for pipelines.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"program":{"type":"string"},"args":{"type":"array","items":{"type":"string"}},"env":{"type":"object","additionalProperties":{"type":"string"}},"timeout":{"type":"integer"}},"required":["program"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (spacebot.ToolResult, error) {
	var params struct {
		Program string            `json:"program"`
		Args    []string          `json:"args"`
		Env     map[string]string `json:"env"`
		Timeout int               `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return spacebot.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Program == "" {
		return spacebot.ToolResult{Error: "program is required"}, nil
	}

	timeout := t.defaultTimeout
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	if timeout > 600 {
		timeout = 600
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := osexec.CommandContext(cmdCtx, params.Program, params.Args...)
	cmd.Dir = t.workspace
	cmd.WaitDelay = time.Second
	for k, v := range params.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

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
		return spacebot.ToolResult{Error: fmt.Sprintf("%s timed out after %ds", params.Program, timeout)}, nil
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
