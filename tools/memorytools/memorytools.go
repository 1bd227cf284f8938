// Package memorytools implements memory_save, memory_recall, memory_delete,
// and channel_recall — the tool surface Branches and the ingestion agent
// use to work with long-term memory.
package memorytools

import (
	"context"
	"encoding/json"
	"fmt"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/memory"
	"github.com/nevindra/spacebot/store/sqlite"
)

// Tools exposes the memory tool set over a Search surface. channelID scopes
// channel_recall; empty disables it.
type Tools struct {
	search    memory.Search
	store     *sqlite.Store
	channelID spacebot.ChannelID
}

// New creates the memory tool set.
func New(search memory.Search, store *sqlite.Store, channelID spacebot.ChannelID) *Tools {
	return &Tools{search: search, store: store, channelID: channelID}
}

func (t *Tools) Definitions() []spacebot.ToolDefinition {
	defs := []spacebot.ToolDefinition{
		{
			Name:        "memory_save",
			Description: "Save a fact to long-term memory. Keep memories short and self-contained.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"},"category":{"type":"string","description":"Optional grouping, e.g. person, preference, project"}},"required":["content"]}`),
		},
		{
			Name:        "memory_recall",
			Description: "Search long-term memory semantically.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`),
		},
		{
			Name:        "memory_delete",
			Description: "Delete a memory by id (from memory_recall results).",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
		},
	}
	if t.channelID != "" {
		defs = append(defs, spacebot.ToolDefinition{
			Name:        "channel_recall",
			Description: "Search this conversation's archived history (content that was compacted away).",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`),
		})
	}
	return defs
}

func (t *Tools) Execute(ctx context.Context, name string, args json.RawMessage) (spacebot.ToolResult, error) {
	switch name {
	case "memory_save":
		var p struct {
			Content  string `json:"content"`
			Category string `json:"category"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.Content == "" {
			return spacebot.ToolResult{Error: "invalid args: content is required"}, nil
		}
		id, err := t.search.Save(ctx, p.Content, p.Category)
		if err != nil {
			return spacebot.ToolResult{}, err
		}
		return spacebot.ToolResult{Content: "saved: " + id}, nil

	case "memory_recall":
		var p struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.Query == "" {
			return spacebot.ToolResult{Error: "invalid args: query is required"}, nil
		}
		results, err := t.search.Recall(ctx, p.Query, p.Limit)
		if err != nil {
			return spacebot.ToolResult{}, err
		}
		return spacebot.ToolResult{Content: memory.FormatRecall(results)}, nil

	case "memory_delete":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.ID == "" {
			return spacebot.ToolResult{Error: "invalid args: id is required"}, nil
		}
		if err := t.search.Delete(ctx, p.ID); err != nil {
			return spacebot.ToolResult{}, err
		}
		return spacebot.ToolResult{Content: "deleted"}, nil

	case "channel_recall":
		if t.channelID == "" {
			return spacebot.ToolResult{Error: "channel_recall is not available here"}, nil
		}
		var p struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.Query == "" {
			return spacebot.ToolResult{Error: "invalid args: query is required"}, nil
		}
		limit := p.Limit
		if limit <= 0 {
			limit = 3
		}
		fragments, err := t.store.SearchArchives(ctx, t.channelID, p.Query, limit)
		if err != nil {
			return spacebot.ToolResult{}, err
		}
		if len(fragments) == 0 {
			return spacebot.ToolResult{Content: "no archived history matched"}, nil
		}
		out := ""
		for i, f := range fragments {
			out += fmt.Sprintf("--- fragment %d ---\n%s\n", i+1, f)
		}
		return spacebot.ToolResult{Content: spacebot.TruncateOutput(out, spacebot.MaxToolOutputBytes)}, nil
	}
	return spacebot.ToolResult{Error: "unknown tool: " + name}, nil
}
