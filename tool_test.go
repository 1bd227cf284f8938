package spacebot

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeTool struct {
	name   string
	result ToolResult
	calls  int
}

func (f *fakeTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: f.name, Description: "fake", Parameters: json.RawMessage(`{"type":"object"}`)}}
}

func (f *fakeTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	f.calls++
	return f.result, nil
}

func TestToolServerDispatch(t *testing.T) {
	s := NewToolServer()
	tool := &fakeTool{name: "echo", result: ToolResult{Content: "hi"}}
	s.Add("perm", tool)

	res, err := s.Execute(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "hi" {
		t.Errorf("expected hi, got %q", res.Content)
	}
	if tool.calls != 1 {
		t.Errorf("expected 1 call, got %d", tool.calls)
	}
}

func TestToolServerUnknownToolIsToolError(t *testing.T) {
	s := NewToolServer()
	res, err := s.Execute(context.Background(), "missing", nil)
	if err != nil {
		t.Fatalf("unknown tool should not be a Go error: %v", err)
	}
	if res.Error == "" {
		t.Error("expected a tool error for unknown tool")
	}
}

func TestToolServerRemoveGroupDetachesTools(t *testing.T) {
	s := NewToolServer()
	s.Add("perm", &fakeTool{name: "keep"})
	s.Add("turn", &fakeTool{name: "reply"})

	if got := len(s.Definitions()); got != 2 {
		t.Fatalf("expected 2 definitions, got %d", got)
	}

	s.Remove("turn")
	defs := s.Definitions()
	if len(defs) != 1 || defs[0].Name != "keep" {
		t.Errorf("expected only keep after removal, got %+v", defs)
	}

	// A stale per-turn tool cannot be re-entered.
	res, _ := s.Execute(context.Background(), "reply", nil)
	if res.Error == "" {
		t.Error("expected removed tool to be unknown")
	}
}

func TestToolServerRemoveUnknownGroupIsNoop(t *testing.T) {
	s := NewToolServer()
	s.Add("perm", &fakeTool{name: "keep"})
	s.Remove("nope")
	if got := len(s.Definitions()); got != 1 {
		t.Errorf("expected 1 definition, got %d", got)
	}
}
