// Package channeltools implements the per-turn tool surface a Channel
// exposes to its LLM: reply, branch, spawn_worker, route, cancel, skip,
// react, send_file, send_message_to_another_channel.
//
// The tools hold per-turn state (response sink, skip flag), so the Channel
// registers them on its ToolServer when a conversation turn begins and
// removes them when it ends.
package channeltools

import (
	"context"
	"encoding/json"

	spacebot "github.com/nevindra/spacebot"
)

// Controller is the Channel surface the tools drive. The Channel implements
// it; tests substitute fakes.
type Controller interface {
	// Reply emits a text response on the current turn's sink. No-op when
	// the skip flag is set.
	Reply(ctx context.Context, text string) error
	// Branch forks the conversation context and blocks until the branch
	// returns its conclusion.
	Branch(ctx context.Context, description string, maxTurns int) (string, error)
	// SpawnWorker starts a worker and returns its id. Interactive workers
	// accept follow-up input via Route.
	SpawnWorker(ctx context.Context, task string, interactive bool, binding string, notify bool) (string, error)
	// Route pushes text to an interactive worker's input.
	Route(ctx context.Context, workerID, text string) error
	// Cancel signals cancellation of a worker or branch by id.
	Cancel(ctx context.Context, id string) error
	// Skip sets the turn's skip flag, suppressing subsequent replies.
	Skip()
	// React emits a reaction on the current turn's sink.
	React(ctx context.Context, emoji string) error
	// SendFile emits a file response on the current turn's sink.
	SendFile(ctx context.Context, name string, data []byte) error
	// SendMessage delivers text to another channel via its adapter,
	// addressed as "adapter:target".
	SendMessage(ctx context.Context, target, text string) error
}

// Tools bundles the per-turn channel tools over one Controller.
type Tools struct {
	ctrl Controller
}

// New creates the per-turn tool set.
func New(ctrl Controller) *Tools {
	return &Tools{ctrl: ctrl}
}

// NewSpawnOnly creates the reduced tool set granted to channel-originated
// branches: spawn_worker, route, and cancel only.
func NewSpawnOnly(ctrl Controller) *SpawnTools {
	return &SpawnTools{inner: Tools{ctrl: ctrl}}
}

// SpawnTools restricts Tools to the worker-management subset.
type SpawnTools struct {
	inner Tools
}

func (t *SpawnTools) Definitions() []spacebot.ToolDefinition {
	keep := map[string]bool{"spawn_worker": true, "route": true, "cancel": true}
	var defs []spacebot.ToolDefinition
	for _, d := range t.inner.Definitions() {
		if keep[d.Name] {
			defs = append(defs, d)
		}
	}
	return defs
}

func (t *SpawnTools) Execute(ctx context.Context, name string, args json.RawMessage) (spacebot.ToolResult, error) {
	switch name {
	case "spawn_worker", "route", "cancel":
		return t.inner.Execute(ctx, name, args)
	}
	return spacebot.ToolResult{Error: "unknown tool: " + name}, nil
}

func (t *Tools) Definitions() []spacebot.ToolDefinition {
	return []spacebot.ToolDefinition{
		{
			Name:        "reply",
			Description: "Send a message to the conversation. This is how you talk to the user.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string","description":"Message text (markdown allowed)"}},"required":["text"]}`),
		},
		{
			Name:        "branch",
			Description: "Fork the conversation context to think something through without polluting it. Returns the branch's conclusion. The branch has memory and task tools.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"description":{"type":"string","description":"What the branch should figure out"},"max_turns":{"type":"integer","description":"Turn budget override"}},"required":["description"]}`),
		},
		{
			Name:        "spawn_worker",
			Description: "Start a worker to execute a task with shell/file/exec tools. Set interactive=true to keep it alive for follow-up input via route. Set binding to an ACP agent profile name to drive an external coding agent.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"task":{"type":"string"},"interactive":{"type":"boolean"},"binding":{"type":"string"},"notify":{"type":"boolean","description":"Post the worker's result into this conversation when done"}},"required":["task"]}`),
		},
		{
			Name:        "route",
			Description: "Send follow-up input to an interactive worker.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"worker_id":{"type":"string"},"text":{"type":"string"}},"required":["worker_id","text"]}`),
		},
		{
			Name:        "cancel",
			Description: "Cancel a running worker or branch by id.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
		},
		{
			Name:        "skip",
			Description: "Decide not to respond to this message. Suppresses any further reply calls this turn.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "react",
			Description: "React to the message with an emoji.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"emoji":{"type":"string"}},"required":["emoji"]}`),
		},
		{
			Name:        "send_file",
			Description: "Send a file to the conversation.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"},"content":{"type":"string","description":"File content (text)"}},"required":["name","content"]}`),
		},
		{
			Name:        "send_message_to_another_channel",
			Description: "Send a message to a different channel, addressed as adapter:target (e.g. discord:123456).",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"target":{"type":"string"},"text":{"type":"string"}},"required":["target","text"]}`),
		},
	}
}

func (t *Tools) Execute(ctx context.Context, name string, args json.RawMessage) (spacebot.ToolResult, error) {
	switch name {
	case "reply":
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.Text == "" {
			return spacebot.ToolResult{Error: "invalid args: text is required"}, nil
		}
		if err := t.ctrl.Reply(ctx, p.Text); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "sent"}, nil

	case "branch":
		var p struct {
			Description string `json:"description"`
			MaxTurns    int    `json:"max_turns"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.Description == "" {
			return spacebot.ToolResult{Error: "invalid args: description is required"}, nil
		}
		conclusion, err := t.ctrl.Branch(ctx, p.Description, p.MaxTurns)
		if err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: conclusion}, nil

	case "spawn_worker":
		var p struct {
			Task        string `json:"task"`
			Interactive bool   `json:"interactive"`
			Binding     string `json:"binding"`
			Notify      bool   `json:"notify"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.Task == "" {
			return spacebot.ToolResult{Error: "invalid args: task is required"}, nil
		}
		id, err := t.ctrl.SpawnWorker(ctx, p.Task, p.Interactive, p.Binding, p.Notify)
		if err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "worker started: " + id}, nil

	case "route":
		var p struct {
			WorkerID string `json:"worker_id"`
			Text     string `json:"text"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.WorkerID == "" || p.Text == "" {
			return spacebot.ToolResult{Error: "invalid args: worker_id and text are required"}, nil
		}
		if err := t.ctrl.Route(ctx, p.WorkerID, p.Text); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "routed"}, nil

	case "cancel":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.ID == "" {
			return spacebot.ToolResult{Error: "invalid args: id is required"}, nil
		}
		if err := t.ctrl.Cancel(ctx, p.ID); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "cancellation signalled"}, nil

	case "skip":
		t.ctrl.Skip()
		return spacebot.ToolResult{Content: "skipping this message"}, nil

	case "react":
		var p struct {
			Emoji string `json:"emoji"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.Emoji == "" {
			return spacebot.ToolResult{Error: "invalid args: emoji is required"}, nil
		}
		if err := t.ctrl.React(ctx, p.Emoji); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "reacted"}, nil

	case "send_file":
		var p struct {
			Name    string `json:"name"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.Name == "" {
			return spacebot.ToolResult{Error: "invalid args: name and content are required"}, nil
		}
		if err := t.ctrl.SendFile(ctx, p.Name, []byte(p.Content)); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "file sent"}, nil

	case "send_message_to_another_channel":
		var p struct {
			Target string `json:"target"`
			Text   string `json:"text"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.Target == "" || p.Text == "" {
			return spacebot.ToolResult{Error: "invalid args: target and text are required"}, nil
		}
		if err := t.ctrl.SendMessage(ctx, p.Target, p.Text); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "sent"}, nil
	}
	return spacebot.ToolResult{Error: "unknown tool: " + name}, nil
}
