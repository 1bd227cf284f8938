package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	spacebot "github.com/nevindra/spacebot"
)

func turns(n int) []spacebot.ChatMessage {
	out := make([]spacebot.ChatMessage, n)
	for i := range out {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out[i] = spacebot.ChatMessage{Role: role, Content: fmt.Sprintf("turn %d", i)}
	}
	return out
}

// P8: highest-priority non-null action among the thresholds.
func TestCompactorThresholdLadder(t *testing.T) {
	deps := testDeps(t, &scriptedTransport{fn: func(string, spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		return textCompletion("summary"), nil
	}})
	c := NewCompactor("conv-1", deps)

	cases := []struct {
		usage  float64
		action CompactionAction
		ok     bool
	}{
		{0.50, 0, false},
		{0.79, 0, false},
		{0.80, CompactBackground, true},
		{0.84, CompactBackground, true},
		{0.85, CompactAggressive, true},
		{0.94, CompactAggressive, true},
		{0.95, CompactEmergency, true},
		{0.99, CompactEmergency, true},
	}
	for _, tc := range cases {
		action, ok := c.Check(tc.usage)
		if ok != tc.ok || (ok && action != tc.action) {
			t.Errorf("Check(%.2f) = (%v, %v), want (%v, %v)",
				tc.usage, action, ok, tc.action, tc.ok)
		}
	}
}

func TestCompactorCheckReturnsNothingWhileCompacting(t *testing.T) {
	deps := testDeps(t, &scriptedTransport{fn: func(string, spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		return textCompletion("summary"), nil
	}})
	c := NewCompactor("conv-1", deps)

	c.isCompacting.Store(true)
	if _, ok := c.Check(0.99); ok {
		t.Error("expected no action while a compaction is running")
	}
	c.isCompacting.Store(false)
	if _, ok := c.Check(0.99); !ok {
		t.Error("expected an action once the compaction finished")
	}
}

// Scenario: usage 0.97 → emergency truncate drops the oldest 50% and
// inserts a system note, with no LLM call.
func TestEmergencyTruncateDropsOldestHalf(t *testing.T) {
	llmCalled := false
	deps := testDeps(t, &scriptedTransport{fn: func(string, spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		llmCalled = true
		return textCompletion("should not happen"), nil
	}})
	c := NewCompactor("conv-1", deps)

	history := turns(10)
	rewritten := c.EmergencyTruncate(context.Background(), history)

	if llmCalled {
		t.Error("emergency truncate must not call the LLM")
	}
	// 5 dropped, 5 kept, plus the truncation note.
	if len(rewritten) != 6 {
		t.Fatalf("expected 6 turns after truncate, got %d", len(rewritten))
	}
	if rewritten[0].Role != "system" || !strings.Contains(rewritten[0].Content, "truncated") {
		t.Errorf("expected a truncation note first, got %+v", rewritten[0])
	}
	if rewritten[1].Content != "turn 5" {
		t.Errorf("expected oldest half dropped, second turn is %q", rewritten[1].Content)
	}

	// Dropped turns are archived for channel_recall.
	fragments, err := deps.Store.SearchArchives(context.Background(), "conv-1", "turn 0", 5)
	if err != nil {
		t.Fatalf("search archives: %v", err)
	}
	if len(fragments) != 1 {
		t.Errorf("expected dropped turns archived, got %d fragments", len(fragments))
	}
}

func TestCompactPrefixShare(t *testing.T) {
	if got := compactPrefixShare(CompactAggressive, 10); got != 5 {
		t.Errorf("aggressive share of 10 = %d, want 5", got)
	}
	if got := compactPrefixShare(CompactBackground, 9); got != 3 {
		t.Errorf("background share of 9 = %d, want 3", got)
	}
}
