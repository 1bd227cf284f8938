package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	spacebot "github.com/nevindra/spacebot"
)

// Agent is one independent unit of personality, storage, and config. It
// owns the channel registry, the cortex, and the event bus its processes
// publish on.
type Agent struct {
	Deps

	// ExtraTurnTools join every channel's per-turn tool set (the cron
	// tool, when a scheduler is attached).
	ExtraTurnTools []spacebot.Tool

	mu       sync.Mutex
	channels map[spacebot.ChannelID]*channelEntry
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	cortex *Cortex
}

type channelEntry struct {
	channel *Channel
}

// New creates an agent from its deps.
func New(deps Deps) *Agent {
	return &Agent{
		Deps:     deps,
		channels: make(map[spacebot.ChannelID]*channelEntry),
		cortex:   NewCortex(deps),
	}
}

// Cortex exposes the agent's cortex.
func (a *Agent) Cortex() *Cortex { return a.cortex }

// TriggerWarmup asks the cortex for an immediate refresh. The cron
// readiness gate calls this when dispatch runs ahead of warmup.
func (a *Agent) TriggerWarmup(reason string) { a.cortex.TriggerForcedWarmup(reason) }

// Start launches the agent's background processes. Channels are created on
// demand by Dispatch.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	a.runCtx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.cortex.Run(a.runCtx)
	}()
}

// Shutdown cancels every channel (and transitively their branches and
// workers) and waits for them to stop.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
}

// Dispatch routes one inbound message into its conversation's channel,
// creating it lazily. The channel's bounded queue provides backpressure;
// errors are per-message and never take the agent down.
func (a *Agent) Dispatch(ctx context.Context, msg spacebot.InboundMessage, respond Responder) error {
	ch := a.channelFor(msg.ConversationID)
	return ch.Enqueue(ctx, msg, respond)
}

// channelFor returns (creating if needed) the channel for a conversation.
func (a *Agent) channelFor(id spacebot.ChannelID) *Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.channels[id]; ok {
		return e.channel
	}
	if a.runCtx == nil {
		a.runCtx, a.cancel = context.WithCancel(context.Background())
	}

	ch := NewChannel(id, a.Deps, a.ExtraTurnTools...)
	a.channels[id] = &channelEntry{channel: ch}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := ch.Run(a.runCtx); err != nil && a.runCtx.Err() == nil {
			a.logger().Error("channel exited", "channel_id", id, "error", err)
		}
		a.mu.Lock()
		delete(a.channels, id)
		a.mu.Unlock()
	}()
	a.logger().Info("channel created", "channel_id", id)
	return ch
}

// CloseChannel unbinds a conversation explicitly.
func (a *Agent) CloseChannel(id spacebot.ChannelID) {
	a.mu.Lock()
	e, ok := a.channels[id]
	a.mu.Unlock()
	if ok {
		e.channel.CloseInbox()
	}
}

// ActiveChannels returns the live conversation ids.
func (a *Agent) ActiveChannels() []spacebot.ChannelID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]spacebot.ChannelID, 0, len(a.channels))
	for id := range a.channels {
		out = append(out, id)
	}
	return out
}

// RunSyntheticTurn creates a transient channel, feeds it one prompt as a
// synthetic user message, and collects the text of the Text and
// RichMessage responses it produces within the timeout. Used by the cron
// scheduler ("cron:<job_id>" channels).
func (a *Agent) RunSyntheticTurn(ctx context.Context, conversationID, prompt string, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := NewChannel(conversationID, a.Deps, a.ExtraTurnTools...)

	var mu sync.Mutex
	var collected []string
	respond := func(_ context.Context, resp spacebot.OutboundResponse) error {
		if resp.Kind == spacebot.ResponseText || resp.Kind == spacebot.ResponseRichMessage {
			mu.Lock()
			collected = append(collected, resp.Text)
			mu.Unlock()
		}
		return nil
	}

	msg := spacebot.InboundMessage{
		ID:             spacebot.NewID(),
		Source:         "cron",
		ConversationID: conversationID,
		SenderID:       "system",
		AgentID:        a.AgentID,
		Content:        spacebot.MessageContent{Text: prompt},
		Timestamp:      time.Now().UTC(),
	}

	done := make(chan error, 1)
	go func() { done <- ch.Run(runCtx) }()

	if err := ch.Enqueue(runCtx, msg, respond); err != nil {
		cancel()
		<-done
		return "", err
	}
	// One message only: closing the inbox ends Run after the turn.
	ch.CloseInbox()

	err := <-done
	if err != nil && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// The turn ran out its budget; whatever was collected still counts.
		a.logger().Warn("synthetic turn timed out", "conversation_id", conversationID, "timeout", timeout)
		err = nil
	}

	mu.Lock()
	defer mu.Unlock()
	return strings.Join(collected, "\n\n"), err
}
