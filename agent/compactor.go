package agent

import (
	"context"
	"fmt"
	"sync/atomic"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/llm"
)

// CompactionAction is what the compactor decided to do.
type CompactionAction int

const (
	// CompactBackground summarizes a small prefix of history at low
	// priority.
	CompactBackground CompactionAction = iota
	// CompactAggressive summarizes a larger prefix urgently.
	CompactAggressive
	// CompactEmergency drops the oldest half of history synchronously
	// with no LLM call.
	CompactEmergency
)

func (a CompactionAction) String() string {
	switch a {
	case CompactAggressive:
		return "aggressive"
	case CompactEmergency:
		return "emergency_truncate"
	default:
		return "background"
	}
}

// Compactor watches one Channel's context usage. At most one compaction
// runs at a time; Check returns nothing while one is in flight.
type Compactor struct {
	channelID    spacebot.ChannelID
	deps         Deps
	isCompacting atomic.Bool
}

// NewCompactor creates the channel's compactor.
func NewCompactor(channelID spacebot.ChannelID, deps Deps) *Compactor {
	return &Compactor{channelID: channelID, deps: deps}
}

// Check inspects the three thresholds in priority order (emergency >
// aggressive > background) and returns at most one action. Returns false
// while a compaction is already running or no threshold is crossed.
func (c *Compactor) Check(usage float64) (CompactionAction, bool) {
	cfg := c.deps.Runtime.Compaction()
	if c.isCompacting.Load() {
		return 0, false
	}
	switch {
	case usage >= cfg.EmergencyThreshold:
		return CompactEmergency, true
	case usage >= cfg.AggressiveThreshold:
		return CompactAggressive, true
	case usage >= cfg.BackgroundThreshold:
		return CompactBackground, true
	}
	return 0, false
}

// truncationNote is the system record inserted when an emergency truncate
// drops history.
const truncationNote = "[System: conversation history was truncated to fit the context window. Older messages were dropped.]"

// EmergencyTruncate drops the oldest half of history synchronously and
// returns the rewritten history. The dropped turns are archived. No LLM
// call is made.
func (c *Compactor) EmergencyTruncate(ctx context.Context, history []spacebot.ChatMessage) []spacebot.ChatMessage {
	if len(history) < 2 {
		return history
	}
	cut := len(history) / 2
	dropped := history[:cut]

	if err := c.deps.Store.InsertArchive(ctx, c.channelID, renderTranscript(dropped)); err != nil {
		c.deps.logger().Warn("failed to archive truncated history",
			"channel_id", c.channelID, "error", err)
	}
	c.deps.logger().Warn("emergency truncation performed",
		"channel_id", c.channelID, "dropped_turns", cut)

	rewritten := make([]spacebot.ChatMessage, 0, len(history)-cut+1)
	rewritten = append(rewritten, spacebot.SystemMessage(truncationNote))
	rewritten = append(rewritten, history[cut:]...)
	return rewritten
}

// compactPrefixShare picks how much of history a summarizing compaction
// rewrites: aggressive takes half, background a third.
func compactPrefixShare(action CompactionAction, n int) int {
	if action == CompactAggressive {
		return n / 2
	}
	return n / 3
}

// Summarize runs the summarizing compaction path in the background. The
// prefix snapshot is summarized by the compactor-tier model; apply receives
// the summary and the prefix length so the Channel can splice its live
// history (new turns may have appended meanwhile). The Channel never waits
// on this.
func (c *Compactor) Summarize(ctx context.Context, action CompactionAction, prefix []spacebot.ChatMessage, apply func(summary string, prefixLen int)) {
	if len(prefix) == 0 {
		return
	}
	if !c.isCompacting.CompareAndSwap(false, true) {
		return
	}

	c.deps.Events.Publish(spacebot.ProcessEvent{
		Kind:      spacebot.EventCompactionTriggered,
		AgentID:   c.deps.AgentID,
		ChannelID: c.channelID,
		Status:    action.String(),
	})
	c.deps.logger().Info("starting compaction",
		"channel_id", c.channelID, "action", action.String(), "prefix_turns", len(prefix))

	go func() {
		defer c.isCompacting.Store(false)

		transcript := renderTranscript(prefix)
		if err := c.deps.Store.InsertArchive(ctx, c.channelID, transcript); err != nil {
			c.deps.logger().Warn("failed to archive compacted history",
				"channel_id", c.channelID, "error", err)
		}

		routing := c.deps.Runtime.Routing()
		model := llm.ModelForTier(c.deps.LLM, routing, llm.TierCompactor)
		resp, err := model.Completion(ctx, spacebot.CompletionRequest{
			Messages: []spacebot.ChatMessage{
				spacebot.SystemMessage("Summarize the following conversation transcript. Preserve decisions, open questions, names, and anything the participants would expect to be remembered. Be dense; drop pleasantries."),
				spacebot.UserMessage(transcript),
			},
		})
		if err != nil {
			c.deps.logger().Error("compaction summarizer failed",
				"channel_id", c.channelID, "error", err)
			return
		}

		summary := fmt.Sprintf("[System: earlier conversation summarized]\n%s", resp.Text())
		apply(summary, len(prefix))
		c.deps.logger().Info("compaction complete",
			"channel_id", c.channelID, "action", action.String())
	}()
}
