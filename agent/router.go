package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
)

// Router maps inbound messages onto agents via the binding rules and into
// each agent's channel registry. The binding list sits behind an atomic
// pointer so the hot path is lock-free; reloads swap the whole list.
type Router struct {
	agents       map[spacebot.AgentID]*Agent
	defaultAgent spacebot.AgentID
	bindings     atomic.Pointer[[]config.Binding]
	logger       *slog.Logger
}

// NewRouter creates a router over a fixed agent set. The binding list may
// be swapped at any time with SetBindings.
func NewRouter(agents map[spacebot.AgentID]*Agent, defaultAgent spacebot.AgentID, bindings []config.Binding, logger *slog.Logger) *Router {
	if logger == nil {
		logger = spacebot.NopLogger()
	}
	r := &Router{agents: agents, defaultAgent: defaultAgent, logger: logger}
	r.SetBindings(bindings)
	return r
}

// SetBindings atomically replaces the binding list.
func (r *Router) SetBindings(bindings []config.Binding) {
	b := append([]config.Binding(nil), bindings...)
	r.bindings.Store(&b)
}

// Agent returns an agent by id.
func (r *Router) Agent(id spacebot.AgentID) (*Agent, bool) {
	a, ok := r.agents[id]
	return a, ok
}

// Route applies the binding rules (first match wins, default agent as
// fallback) and enqueues the message on its conversation's channel.
// Per-message failures are returned to the caller and never crash the
// router.
func (r *Router) Route(ctx context.Context, msg spacebot.InboundMessage, respond Responder) error {
	bindings := *r.bindings.Load()
	agentID := config.ResolveAgentForMessage(bindings, &msg, r.defaultAgent)

	a, ok := r.agents[agentID]
	if !ok {
		a, ok = r.agents[r.defaultAgent]
		if !ok {
			return fmt.Errorf("router: no agent for message (resolved %q, no default)", agentID)
		}
		r.logger.Warn("binding resolved to unknown agent, using default",
			"resolved", agentID, "default", r.defaultAgent)
	}

	if err := a.Dispatch(ctx, msg, respond); err != nil {
		return fmt.Errorf("router: dispatch to %s: %w", agentID, err)
	}
	return nil
}
