// Package tasktools implements task_create, task_list, and task_update over
// the agent's task store. A worker passing its id gets exclusive write
// access to status transitions of tasks it owns.
package tasktools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/store/sqlite"
)

// Tools is the task tool set. workerID is empty for branches and the
// channel; a worker's own id scopes its task_update calls.
type Tools struct {
	store    *sqlite.Store
	workerID string
}

// New creates the task tool set.
func New(store *sqlite.Store, workerID string) *Tools {
	return &Tools{store: store, workerID: workerID}
}

var validStatuses = map[string]bool{
	"pending": true, "in_progress": true, "completed": true,
	"failed": true, "cancelled": true,
}

func (t *Tools) Definitions() []spacebot.ToolDefinition {
	return []spacebot.ToolDefinition{
		{
			Name:        "task_create",
			Description: "Create a tracked task.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"description":{"type":"string"}},"required":["title"]}`),
		},
		{
			Name:        "task_list",
			Description: "List tasks, optionally filtered by status (pending, in_progress, completed, failed, cancelled).",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"status":{"type":"string"}}}`),
		},
		{
			Name:        "task_update",
			Description: "Update a task's status.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"},"status":{"type":"string"}},"required":["id","status"]}`),
		},
	}
}

func (t *Tools) Execute(ctx context.Context, name string, args json.RawMessage) (spacebot.ToolResult, error) {
	switch name {
	case "task_create":
		var p struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.Title == "" {
			return spacebot.ToolResult{Error: "invalid args: title is required"}, nil
		}
		task, err := t.store.CreateTask(ctx, p.Title, p.Description)
		if err != nil {
			return spacebot.ToolResult{}, err
		}
		return spacebot.ToolResult{Content: "created task " + task.ID}, nil

	case "task_list":
		var p struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(args, &p)
		if p.Status != "" && !validStatuses[p.Status] {
			return spacebot.ToolResult{Error: "invalid status: " + p.Status}, nil
		}
		tasks, err := t.store.ListTasks(ctx, p.Status)
		if err != nil {
			return spacebot.ToolResult{}, err
		}
		if len(tasks) == 0 {
			return spacebot.ToolResult{Content: "no tasks"}, nil
		}
		var b strings.Builder
		for _, task := range tasks {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", task.ID, task.Title, task.Status)
		}
		return spacebot.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil

	case "task_update":
		var p struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.ID == "" || p.Status == "" {
			return spacebot.ToolResult{Error: "invalid args: id and status are required"}, nil
		}
		if !validStatuses[p.Status] {
			return spacebot.ToolResult{Error: "invalid status: " + p.Status}, nil
		}
		if p.Status == "in_progress" && t.workerID != "" {
			if err := t.store.ClaimTask(ctx, p.ID, t.workerID); err != nil {
				return spacebot.ToolResult{Error: err.Error()}, nil
			}
			return spacebot.ToolResult{Content: "task claimed"}, nil
		}
		if err := t.store.UpdateTaskStatus(ctx, p.ID, p.Status, t.workerID); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "task updated"}, nil
	}
	return spacebot.ToolResult{Error: "unknown tool: " + name}, nil
}
