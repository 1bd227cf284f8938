// Package status implements the worker set_status tool, which publishes a
// short progress line on the agent's event bus.
package status

import (
	"context"
	"encoding/json"

	spacebot "github.com/nevindra/spacebot"
)

// Tool publishes worker status updates.
type Tool struct {
	publish func(status string)
}

// New creates a set_status tool bound to a worker's publish func.
func New(publish func(status string)) *Tool {
	return &Tool{publish: publish}
}

func (t *Tool) Definitions() []spacebot.ToolDefinition {
	return []spacebot.ToolDefinition{{
		Name:        "set_status",
		Description: "Publish a short status line describing what you are doing right now.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"status":{"type":"string"}},"required":["status"]}`),
	}}
}

func (t *Tool) Execute(_ context.Context, _ string, args json.RawMessage) (spacebot.ToolResult, error) {
	var p struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(args, &p); err != nil || p.Status == "" {
		return spacebot.ToolResult{Error: "invalid args: status is required"}, nil
	}
	t.publish(p.Status)
	return spacebot.ToolResult{Content: "status set"}, nil
}
