// Package skilltool lets the Channel LLM read the body of a skill named in
// its system-prompt listing.
package skilltool

import (
	"context"
	"encoding/json"
	"os"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
)

// Tool reads skill files from the current runtime snapshot.
type Tool struct {
	runtime *config.RuntimeConfig
}

// New creates a read_skill tool.
func New(runtime *config.RuntimeConfig) *Tool {
	return &Tool{runtime: runtime}
}

func (t *Tool) Definitions() []spacebot.ToolDefinition {
	return []spacebot.ToolDefinition{{
		Name:        "read_skill",
		Description: "Read the full instructions of a skill from the skills listing.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`),
	}}
}

func (t *Tool) Execute(_ context.Context, _ string, args json.RawMessage) (spacebot.ToolResult, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &p); err != nil || p.Name == "" {
		return spacebot.ToolResult{Error: "invalid args: name is required"}, nil
	}
	for _, s := range t.runtime.Skills() {
		if s.Name != p.Name {
			continue
		}
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return spacebot.ToolResult{Error: "failed to read skill: " + err.Error()}, nil
		}
		return spacebot.ToolResult{Content: spacebot.TruncateOutput(string(data), spacebot.MaxToolOutputBytes)}, nil
	}
	return spacebot.ToolResult{Error: "unknown skill: " + p.Name}, nil
}
