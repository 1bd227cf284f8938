package spacebot

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidAgentID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"main", true},
		{"agent-2_x", true},
		{"", false},
		{"Upper", false},
		{"has space", false},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
	}
	for _, c := range cases {
		if got := ValidAgentID(c.id); got != c.want {
			t.Errorf("ValidAgentID(%q) = %v, want %v", c.id, got, c.want)
		}
	}
}

func TestMetaStringAcceptsNumericEncodings(t *testing.T) {
	msg := InboundMessage{Metadata: map[string]any{
		"str": "abc",
		"num": float64(123456),
	}}
	if v, ok := msg.MetaString("str"); !ok || v != "abc" {
		t.Errorf("str: got %q, %v", v, ok)
	}
	if v, ok := msg.MetaString("num"); !ok || v != "123456" {
		t.Errorf("num: got %q, %v", v, ok)
	}
	if _, ok := msg.MetaString("missing"); ok {
		t.Error("missing key should not be found")
	}
}

func TestCompletionResponseHelpers(t *testing.T) {
	resp := CompletionResponse{Choice: []AssistantContent{
		{Text: "hello "},
		{ToolCall: &ToolCall{ID: "1", Name: "reply", Args: json.RawMessage(`{}`)}},
		{Text: "world"},
	}}
	if got := resp.Text(); got != "hello world" {
		t.Errorf("Text() = %q", got)
	}
	calls := resp.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "reply" {
		t.Errorf("ToolCalls() = %+v", calls)
	}
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	u.Add(Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3, CachedInput: 4})
	if u.InputTokens != 11 || u.OutputTokens != 7 || u.TotalTokens != 18 || u.CachedInput != 4 {
		t.Errorf("unexpected usage after add: %+v", u)
	}
}
