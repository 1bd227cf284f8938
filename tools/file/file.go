// Package file implements the worker file tool: read, write, and list
// confined to the agent's workspace root. Paths that resolve outside the
// workspace — and the agent's identity/prompts/data directories even when
// symlinked inside — are refused.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	spacebot "github.com/nevindra/spacebot"
)

// Tool is the workspace-confined file tool.
type Tool struct {
	workspace string
	// denied are absolute directory prefixes reads/writes may never touch
	// (identity, prompts, data directories).
	denied []string
}

// New creates a file tool rooted at workspace. deniedDirs lists directories
// that stay off-limits even if reachable.
func New(workspace string, deniedDirs ...string) *Tool {
	var denied []string
	for _, d := range deniedDirs {
		if d == "" {
			continue
		}
		if abs, err := filepath.Abs(d); err == nil {
			denied = append(denied, abs)
		}
	}
	return &Tool{workspace: workspace, denied: denied}
}

func (t *Tool) Definitions() []spacebot.ToolDefinition {
	return []spacebot.ToolDefinition{{
		Name:        "file",
		Description: "Read, write, or list files in the workspace. action is one of read, write, list.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"action":{"type":"string","enum":["read","write","list"]},"path":{"type":"string","description":"Path relative to the workspace"},"content":{"type":"string","description":"Content for write"}},"required":["action","path"]}`),
	}}
}

// resolve maps a user path into the workspace and enforces confinement.
func (t *Tool) resolve(op, raw string) (string, error) {
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(t.workspace, p)
	}
	p = filepath.Clean(p)

	wsAbs, err := filepath.Abs(t.workspace)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if abs != wsAbs && !strings.HasPrefix(abs, wsAbs+string(filepath.Separator)) {
		return "", &spacebot.ErrPermission{Op: op, Path: raw}
	}
	for _, d := range t.denied {
		if abs == d || strings.HasPrefix(abs, d+string(filepath.Separator)) {
			return "", &spacebot.ErrPermission{Op: op, Path: raw}
		}
	}
	return abs, nil
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (spacebot.ToolResult, error) {
	var params struct {
		Action  string `json:"action"`
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return spacebot.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Path == "" {
		return spacebot.ToolResult{Error: "path is required"}, nil
	}

	switch params.Action {
	case "read":
		path, err := t.resolve("read", params.Path)
		if err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: spacebot.TruncateOutput(string(data), spacebot.MaxToolOutputBytes)}, nil

	case "write":
		path, err := t.resolve("write", params.Path)
		if err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.Path)}, nil

	case "list":
		path, err := t.resolve("list", params.Path)
		if err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		var b strings.Builder
		for i, e := range entries {
			if i >= spacebot.MaxDirEntries {
				fmt.Fprintf(&b, "... (%d more entries)\n", len(entries)-i)
				break
			}
			suffix := ""
			if e.IsDir() {
				suffix = "/"
			}
			b.WriteString(e.Name() + suffix + "\n")
		}
		if b.Len() == 0 {
			return spacebot.ToolResult{Content: "(empty directory)"}, nil
		}
		return spacebot.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
	}
	return spacebot.ToolResult{Error: "invalid action: " + params.Action}, nil
}
