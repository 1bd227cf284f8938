package spacebot

import (
	"context"
	"encoding/json"
	"sync"
)

// Tool defines an agent capability with one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution. Error is set for failures
// the LLM should see and correct (invalid arguments, permission refusals,
// concurrency limits); a non-nil Go error from Execute means the tool
// machinery itself broke.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// ToolServer holds registered tools and dispatches execution. Unlike a
// static registry, tools are registered and removed in named groups while
// the server is live: a Channel attaches its per-turn tools (reply, branch,
// spawn_worker, ...) at the start of each conversation turn and detaches
// them at the end, so stale per-turn senders can never be re-entered.
//
// All registration, removal, and lookup is serialized through one lock.
type ToolServer struct {
	mu     sync.RWMutex
	groups map[string][]Tool
	order  []string
}

// NewToolServer creates an empty tool server.
func NewToolServer() *ToolServer {
	return &ToolServer{groups: make(map[string][]Tool)}
}

// Add registers tools under a group name. Adding to an existing group
// appends. The empty group name is allowed for permanent tools.
func (s *ToolServer) Add(group string, tools ...Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group]; !ok {
		s.order = append(s.order, group)
	}
	s.groups[group] = append(s.groups[group], tools...)
}

// Remove unregisters an entire group. Unknown groups are a no-op.
func (s *ToolServer) Remove(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group]; !ok {
		return
	}
	delete(s.groups, group)
	for i, g := range s.order {
		if g == group {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Definitions returns tool definitions from all registered groups, in
// registration order.
func (s *ToolServer) Definitions() []ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var defs []ToolDefinition
	for _, g := range s.order {
		for _, t := range s.groups[g] {
			defs = append(defs, t.Definitions()...)
		}
	}
	return defs
}

// Execute dispatches a tool call by name. An unknown name returns a tool
// error (not a Go error) so the LLM can correct itself.
func (s *ToolServer) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	s.mu.RLock()
	var target Tool
lookup:
	for _, g := range s.order {
		for _, t := range s.groups[g] {
			for _, d := range t.Definitions() {
				if d.Name == name {
					target = t
					break lookup
				}
			}
		}
	}
	s.mu.RUnlock()

	if target == nil {
		return ToolResult{Error: "unknown tool: " + name}, nil
	}
	return target.Execute(ctx, name, args)
}
