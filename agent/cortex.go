package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
	"github.com/nevindra/spacebot/llm"
	"github.com/nevindra/spacebot/store/sqlite"
)

// bulletinMemoryCount is how many recent memories feed one bulletin
// refresh.
const bulletinMemoryCount = 30

// associationThreshold is the minimum cosine similarity for linking two
// memories.
const associationThreshold = 0.75

// Cortex is the per-agent periodic process that keeps the memory bulletin
// fresh and links related memories. It owns the agent's warmup state: the
// first successful bulletin refresh flips the agent Warm.
type Cortex struct {
	deps Deps
	// warmupKick wakes the loop for a forced warmup.
	warmupKick chan string
}

// NewCortex creates the agent's cortex.
func NewCortex(deps Deps) *Cortex {
	return &Cortex{deps: deps, warmupKick: make(chan string, 4)}
}

// TriggerForcedWarmup wakes the cortex to refresh immediately. reason is
// logged ("cron", "admin", ...). Never blocks.
func (x *Cortex) TriggerForcedWarmup(reason string) {
	select {
	case x.warmupKick <- reason:
	default:
	}
}

// Run drives the tick loop until ctx is cancelled.
func (x *Cortex) Run(ctx context.Context) {
	x.deps.Runtime.SetWarmState(config.WarmupWarming)
	x.refresh(ctx)

	for {
		warmup := x.deps.Runtime.Warmup()
		interval := time.Duration(warmup.BulletinRefreshSecs) * time.Second
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case reason := <-x.warmupKick:
			x.deps.logger().Info("forced warmup triggered", "reason", reason)
			x.refresh(ctx)
		case <-time.After(interval):
			x.refresh(ctx)
		}
	}
}

// refresh rebuilds the memory bulletin and runs an association pass.
func (x *Cortex) refresh(ctx context.Context) {
	recent, err := x.deps.Memory.Recent(ctx, bulletinMemoryCount)
	if err != nil {
		x.deps.logger().Warn("cortex: failed to load recent memories", "error", err)
		return
	}

	if len(recent) == 0 {
		x.deps.Runtime.SetMemoryBulletin("")
		x.deps.Runtime.SetWarmState(config.WarmupWarm)
		return
	}

	var b strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&b, "- %s\n", m.Content)
	}

	routing := x.deps.Runtime.Routing()
	model := llm.ModelForTier(x.deps.LLM, routing, llm.TierCortex)
	resp, err := model.Completion(ctx, spacebot.CompletionRequest{
		Messages: []spacebot.ChatMessage{
			spacebot.SystemMessage("Distill these memories into a short bulletin: the durable facts, preferences, and ongoing threads a conversational agent should keep in mind. A dozen lines at most."),
			spacebot.UserMessage(b.String()),
		},
	})
	if err != nil {
		x.deps.logger().Warn("cortex: bulletin refresh failed", "error", err)
		return
	}

	x.deps.Runtime.SetMemoryBulletin(resp.Text())
	x.deps.Runtime.SetWarmState(config.WarmupWarm)
	x.deps.logger().Debug("memory bulletin refreshed", "memories", len(recent))

	x.associate(ctx, recent)
}

// associate links recent memories whose embeddings are close.
func (x *Cortex) associate(ctx context.Context, recent []sqlite.Memory) {
	for _, m := range recent {
		if len(m.Embedding) == 0 {
			continue
		}
		matches, err := x.deps.Memory.Recall(ctx, m.Content, 4)
		if err != nil {
			continue
		}
		for _, match := range matches {
			if match.ID == m.ID || match.Score < associationThreshold {
				continue
			}
			if err := x.deps.Memory.Associate(ctx, m.ID, match.ID, match.Score); err != nil {
				x.deps.logger().Debug("cortex: association failed",
					"from", m.ID, "to", match.ID, "error", err)
			}
		}
	}
}
