package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/acp"
	"github.com/nevindra/spacebot/llm"
	"github.com/nevindra/spacebot/messaging"
	"github.com/nevindra/spacebot/store/sqlite"
	"github.com/nevindra/spacebot/tools/channeltools"
)

// inboundQueueDepth bounds each channel's input queue; a full queue pushes
// back on the adapter.
const inboundQueueDepth = 32

// maxTurnIterations bounds LLM round-trips within one conversation turn.
const maxTurnIterations = 8

// Responder delivers one outbound response for the turn that produced it.
type Responder func(ctx context.Context, resp spacebot.OutboundResponse) error

// inboundItem pairs a message with its per-turn response sink.
type inboundItem struct {
	msg     spacebot.InboundMessage
	respond Responder
}

// turnState is the per-turn tool state: the bound response sink and the
// skip flag. Created when a turn starts, dropped when it ends, so stale
// senders cannot be re-entered.
type turnState struct {
	respond Responder
	skip    atomic.Bool
}

// branchHandle tracks a live branch for cancellation and limit accounting.
type branchHandle struct {
	id     spacebot.BranchID
	cancel context.CancelFunc
}

// workerHandle tracks a live worker. Interactive workers keep an input
// sender; closing it ends the worker's follow-up loop.
type workerHandle struct {
	id          spacebot.WorkerID
	cancel      context.CancelFunc
	interactive bool
	input       chan string
}

// Channel is the long-lived cooperative actor for one conversation. A
// single goroutine drives it, so turns within a conversation are strictly
// serialized and history needs no lock. Branch and worker maps are guarded
// because tool calls dispatch on worker goroutines.
type Channel struct {
	id   spacebot.ChannelID
	deps Deps

	inbox chan inboundItem
	tools *spacebot.ToolServer
	// extraTurnTools (e.g. the cron tool) join the per-turn tool set.
	extraTurnTools []spacebot.Tool

	history   []spacebot.ChatMessage
	compactor *Compactor

	mu       sync.Mutex
	branches map[spacebot.BranchID]*branchHandle
	workers  map[spacebot.WorkerID]*workerHandle
	turn     *turnState

	runCtx context.Context

	// splice carries compaction rewrites back onto the channel goroutine.
	splice chan func()
}

// NewChannel creates a channel for one conversation id. extraTurnTools are
// appended to every turn's tool set.
func NewChannel(id spacebot.ChannelID, deps Deps, extraTurnTools ...spacebot.Tool) *Channel {
	c := &Channel{
		id:             id,
		deps:           deps,
		inbox:          make(chan inboundItem, inboundQueueDepth),
		tools:          spacebot.NewToolServer(),
		extraTurnTools: extraTurnTools,
		branches:       make(map[spacebot.BranchID]*branchHandle),
		workers:        make(map[spacebot.WorkerID]*workerHandle),
		splice:         make(chan func(), 4),
	}
	c.compactor = NewCompactor(id, deps)
	return c
}

// ID returns the conversation id.
func (c *Channel) ID() spacebot.ChannelID { return c.id }

// Enqueue queues an inbound message. Blocks when the queue is full
// (backpressure to the adapter) until ctx dies.
func (c *Channel) Enqueue(ctx context.Context, msg spacebot.InboundMessage, respond Responder) error {
	select {
	case c.inbox <- inboundItem{msg: msg, respond: respond}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseInbox signals that no more messages are coming; Run returns after
// draining.
func (c *Channel) CloseInbox() { close(c.inbox) }

// Run drives the channel until its inbox closes or ctx is cancelled.
// Cancelling ctx cancels all branches and workers transitively.
func (c *Channel) Run(ctx context.Context) error {
	c.runCtx = ctx
	events, cancelSub := c.deps.Events.Subscribe()
	defer cancelSub()
	defer c.cancelChildren()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.splice:
			fn()
		case ev := <-events:
			c.absorbEvent(ev)
		case item, ok := <-c.inbox:
			if !ok {
				return nil
			}
			c.runTurn(ctx, item)
		}
	}
}

// cancelChildren cancels every live branch and worker.
func (c *Channel) cancelChildren() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.branches {
		b.cancel()
	}
	for _, w := range c.workers {
		w.cancel()
	}
}

// absorbEvent incorporates bus events addressed to this channel: worker
// completions the spawner asked to be notified about become synthetic user
// turns.
func (c *Channel) absorbEvent(ev spacebot.ProcessEvent) {
	if ev.ChannelID != c.id {
		return
	}
	if ev.Kind == spacebot.EventWorkerResult && ev.Notify && ev.Result != "" {
		c.history = append(c.history, workerNote(ev.WorkerID, ev.Result))
	}
}

// composeSystemPrompt assembles base prompt + identity + memory bulletin +
// skill listing from the current config snapshot.
func (c *Channel) composeSystemPrompt() string {
	var parts []string

	prompts := c.deps.Runtime.Prompts()
	if base, ok := prompts["channel"]; ok {
		parts = append(parts, base)
	} else {
		parts = append(parts, "You are a conversational agent. Use the reply tool to talk; use skip when no response is warranted. Fork branches for deep thinking and spawn workers for task execution.")
	}

	if identity := c.deps.Runtime.Identity(); identity != "" {
		parts = append(parts, identity)
	}

	if bulletin := c.deps.Runtime.MemoryBulletin(); bulletin.Text != "" {
		parts = append(parts, "## Memory bulletin\n"+bulletin.Text)
	}

	if skills := c.deps.Runtime.Skills(); len(skills) > 0 {
		var b strings.Builder
		b.WriteString("## Skills\n")
		for _, s := range skills {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}

	parts = append(parts, "Current time: "+time.Now().UTC().Format(time.RFC3339))
	return strings.Join(parts, "\n\n")
}

// formatInbound renders an inbound message as the user turn.
func formatInbound(msg *spacebot.InboundMessage) string {
	author := msg.FormattedAuthor
	if author == "" {
		author = msg.SenderID
	}
	text := msg.Content.Text
	if msg.Content.Interaction != "" {
		text = fmt.Sprintf("[interaction: %s]", msg.Content.Interaction)
	}
	if author == "" || author == "system" {
		return text
	}
	return fmt.Sprintf("%s: %s", author, text)
}

// runTurn executes one conversation turn: attach per-turn tools, run the
// LLM loop, drain tool calls, append new turns to history, ask the
// compactor, detach.
func (c *Channel) runTurn(ctx context.Context, item inboundItem) {
	turn := &turnState{respond: item.respond}
	c.mu.Lock()
	c.turn = turn
	c.mu.Unlock()

	c.tools.Add("turn", channeltools.New(c))
	for _, t := range c.extraTurnTools {
		c.tools.Add("turn", t)
	}
	defer func() {
		c.tools.Remove("turn")
		c.mu.Lock()
		c.turn = nil
		c.mu.Unlock()
	}()

	routing := c.deps.Runtime.Routing()
	model := llm.ModelForTier(c.deps.LLM, routing, llm.TierChannel)

	userTurn := spacebot.UserMessage(formatInbound(&item.msg))
	messages := []spacebot.ChatMessage{spacebot.SystemMessage(c.composeSystemPrompt())}
	messages = append(messages, c.history...)
	messages = append(messages, userTurn)
	newTurns := []spacebot.ChatMessage{userTurn}

	for i := 0; i < maxTurnIterations; i++ {
		resp, err := model.Completion(ctx, spacebot.CompletionRequest{
			Messages: messages,
			Tools:    c.tools.Definitions(),
		})
		if err != nil {
			// Per-message isolation: log and end the turn; the channel
			// lives on for the next message.
			c.deps.logger().Error("channel turn failed",
				"channel_id", c.id, "error", err)
			break
		}

		calls := resp.ToolCalls()
		assistant := spacebot.ChatMessage{Role: "assistant", Content: resp.Text(), ToolCalls: calls}
		messages = append(messages, assistant)
		newTurns = append(newTurns, assistant)

		if len(calls) == 0 {
			break
		}
		results := c.dispatchCalls(ctx, calls)
		messages = append(messages, results...)
		newTurns = append(newTurns, results...)
	}

	c.history = append(c.history, newTurns...)
	c.checkCompaction(ctx)
}

// dispatchCalls executes a turn's tool calls concurrently (several branch
// or worker spawns may overlap) and returns their result messages in call
// order.
func (c *Channel) dispatchCalls(ctx context.Context, calls []spacebot.ToolCall) []spacebot.ChatMessage {
	results := make([]spacebot.ChatMessage, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc spacebot.ToolCall) {
			defer wg.Done()
			c.deps.Events.Publish(spacebot.ProcessEvent{
				Kind: spacebot.EventToolStarted, AgentID: c.deps.AgentID,
				ChannelID: c.id, Tool: tc.Name,
			})
			result, err := c.tools.Execute(ctx, tc.Name, tc.Args)
			content := result.Content
			if err != nil {
				content = "error: " + err.Error()
			} else if result.Error != "" {
				content = "error: " + result.Error
			}
			c.deps.Events.Publish(spacebot.ProcessEvent{
				Kind: spacebot.EventToolCompleted, AgentID: c.deps.AgentID,
				ChannelID: c.id, Tool: tc.Name,
			})
			results[i] = spacebot.ToolResultMessage(tc.ID, content)
		}(i, tc)
	}
	wg.Wait()
	return results
}

// checkCompaction measures usage and triggers at most one action.
func (c *Channel) checkCompaction(ctx context.Context) {
	cfg := c.deps.Runtime.Compaction()
	if cfg.ContextWindowChars <= 0 {
		return
	}
	usage := float64(historyChars(c.history)) / float64(cfg.ContextWindowChars)
	action, ok := c.compactor.Check(usage)
	if !ok {
		return
	}

	if action == CompactEmergency {
		c.history = c.compactor.EmergencyTruncate(ctx, c.history)
		return
	}

	prefixLen := compactPrefixShare(action, len(c.history))
	if prefixLen == 0 {
		return
	}
	prefix := cloneHistory(c.history[:prefixLen])
	c.compactor.Summarize(c.runCtx, action, prefix, func(summary string, n int) {
		// Splice on the channel goroutine; new turns appended meanwhile
		// stay untouched.
		select {
		case c.splice <- func() {
			if n > len(c.history) {
				n = len(c.history)
			}
			rewritten := []spacebot.ChatMessage{spacebot.SystemMessage(summary)}
			c.history = append(rewritten, c.history[n:]...)
		}:
		case <-c.runCtx.Done():
		}
	})
}

// --- channeltools.Controller implementation ---

var _ channeltools.Controller = (*Channel)(nil)

func (c *Channel) currentTurn() *turnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// Reply emits a text response on the bound sink. No-op when skip is set.
func (c *Channel) Reply(ctx context.Context, text string) error {
	turn := c.currentTurn()
	if turn == nil || turn.respond == nil {
		return errors.New("no response sink bound")
	}
	if turn.skip.Load() {
		return nil
	}
	return turn.respond(ctx, spacebot.TextResponse(text))
}

// Skip suppresses further replies this turn.
func (c *Channel) Skip() {
	if turn := c.currentTurn(); turn != nil {
		turn.skip.Store(true)
	}
}

// React emits a reaction on the bound sink.
func (c *Channel) React(ctx context.Context, emoji string) error {
	turn := c.currentTurn()
	if turn == nil || turn.respond == nil {
		return errors.New("no response sink bound")
	}
	return turn.respond(ctx, spacebot.OutboundResponse{Kind: spacebot.ResponseReaction, Emoji: emoji})
}

// SendFile emits a file response on the bound sink.
func (c *Channel) SendFile(ctx context.Context, name string, data []byte) error {
	turn := c.currentTurn()
	if turn == nil || turn.respond == nil {
		return errors.New("no response sink bound")
	}
	return turn.respond(ctx, spacebot.OutboundResponse{
		Kind: spacebot.ResponseFile, FileName: name, FileData: data,
	})
}

// SendMessage delivers text to another channel via the messaging manager.
func (c *Channel) SendMessage(ctx context.Context, target, text string) error {
	dt, ok := messaging.ParseDeliveryTarget(target)
	if !ok {
		return fmt.Errorf("invalid target %q: expected adapter:target", target)
	}
	return c.deps.Messaging.Broadcast(ctx, dt.Adapter, dt.Target, spacebot.TextResponse(text))
}

// Branch forks the context and blocks for the conclusion, bounded by the
// branch timeout.
func (c *Channel) Branch(ctx context.Context, description string, maxTurns int) (string, error) {
	limits := c.deps.Runtime.Limits()

	c.mu.Lock()
	if len(c.branches) >= limits.MaxConcurrentBranches {
		max := limits.MaxConcurrentBranches
		c.mu.Unlock()
		return "", &spacebot.ErrBranchLimit{ChannelID: c.id, Max: max}
	}
	branch := NewBranch(c.id, c.deps, c.history, description, maxTurns, c.spawnTool())
	branchCtx, cancel := context.WithTimeout(c.runCtx, limits.BranchTimeout)
	c.branches[branch.ID] = &branchHandle{id: branch.ID, cancel: cancel}
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.branches, branch.ID)
		c.mu.Unlock()
	}()

	return branch.Run(branchCtx)
}

// spawnTool grants a branch the spawn_worker surface scoped to this
// channel.
func (c *Channel) spawnTool() spacebot.Tool {
	return channeltools.NewSpawnOnly(spawnOnly{c})
}

// SpawnWorker starts a task or ACP worker and returns its id.
func (c *Channel) SpawnWorker(ctx context.Context, task string, interactive bool, binding string, notify bool) (string, error) {
	limits := c.deps.Runtime.Limits()

	c.mu.Lock()
	if len(c.workers) >= limits.MaxConcurrentWorkers {
		max := limits.MaxConcurrentWorkers
		c.mu.Unlock()
		return "", &spacebot.ErrWorkerLimit{ChannelID: c.id, Max: max}
	}

	workerCtx, cancel := context.WithTimeout(c.runCtx, limits.WorkerTimeout)
	handle := &workerHandle{cancel: cancel, interactive: interactive}
	if interactive {
		handle.input = make(chan string, inboundQueueDepth)
	}

	if binding != "" {
		acpCfg, ok := c.deps.Runtime.ACPAgent(binding)
		if !ok {
			cancel()
			c.mu.Unlock()
			return "", fmt.Errorf("unknown ACP agent profile %q", binding)
		}
		worker := &acp.Worker{
			ID:        spacebot.NewWorkerID(),
			AgentID:   c.deps.AgentID,
			ChannelID: c.id,
			Task:      task,
			Dir:       c.deps.Workspace,
			Config:    acpCfg,
			Events:    c.deps.Events,
		}
		if interactive {
			worker.Input = handle.input
		}
		handle.id = worker.ID
		c.workers[worker.ID] = handle
		c.mu.Unlock()

		if err := c.deps.Store.InsertWorkerRun(ctx, sqlite.WorkerRun{
			ID: worker.ID.String(), ChannelID: c.id, Task: task,
			Kind: "acp", Status: "running", StartedAt: spacebot.NowUnix(),
		}); err != nil {
			c.deps.logger().Warn("failed to record worker run", "worker_id", worker.ID, "error", err)
		}
		go c.runACPWorker(workerCtx, worker, handle, notify)
		return worker.ID.String(), nil
	}

	worker := NewTaskWorker(c.id, c.deps, task)
	handle.id = worker.ID
	c.workers[worker.ID] = handle
	c.mu.Unlock()

	go c.runTaskWorker(workerCtx, worker, handle, notify)
	return worker.ID.String(), nil
}

func (c *Channel) runTaskWorker(ctx context.Context, worker *TaskWorker, handle *workerHandle, notify bool) {
	defer c.releaseWorker(handle)
	result, err := worker.Run(ctx)
	if err != nil {
		c.deps.logger().Warn("worker failed", "worker_id", worker.ID, "error", err)
		return
	}
	c.deps.Events.Publish(spacebot.ProcessEvent{
		Kind:      spacebot.EventWorkerResult,
		AgentID:   c.deps.AgentID,
		ChannelID: c.id,
		WorkerID:  worker.ID,
		Result:    result,
		Notify:    notify,
	})
}

func (c *Channel) runACPWorker(ctx context.Context, worker *acp.Worker, handle *workerHandle, notify bool) {
	defer c.releaseWorker(handle)
	res, err := worker.Run(ctx)

	status := "completed"
	var cancelled *spacebot.ErrCancelled
	switch {
	case errors.As(err, &cancelled):
		status = "cancelled"
	case err != nil:
		status = "failed"
	}
	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.deps.Store.FinishWorkerRun(finishCtx, worker.ID.String(), status, res.ResultText)

	if err != nil {
		if status != "cancelled" {
			c.deps.logger().Warn("acp worker failed", "worker_id", worker.ID, "error", err)
		}
		return
	}
	c.deps.Events.Publish(spacebot.ProcessEvent{
		Kind:      spacebot.EventWorkerResult,
		AgentID:   c.deps.AgentID,
		ChannelID: c.id,
		WorkerID:  worker.ID,
		Result:    res.ResultText,
		Notify:    notify,
	})
}

func (c *Channel) releaseWorker(handle *workerHandle) {
	handle.cancel()
	c.mu.Lock()
	delete(c.workers, handle.id)
	c.mu.Unlock()
}

// Route pushes follow-up text to an interactive worker.
func (c *Channel) Route(ctx context.Context, workerID, text string) error {
	id, err := uuid.Parse(workerID)
	if err != nil {
		return fmt.Errorf("invalid worker id %q", workerID)
	}
	c.mu.Lock()
	handle, ok := c.workers[id]
	c.mu.Unlock()
	if !ok {
		return &spacebot.ErrWorkerNotFound{ID: id}
	}
	if !handle.interactive {
		return fmt.Errorf("worker %s is not interactive", workerID)
	}
	select {
	case handle.input <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel signals cancellation of a worker or branch by id. Returns
// immediately.
func (c *Channel) Cancel(_ context.Context, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid id %q", rawID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if handle, ok := c.workers[id]; ok {
		handle.cancel()
		return nil
	}
	if handle, ok := c.branches[id]; ok {
		handle.cancel()
		return nil
	}
	return &spacebot.ErrWorkerNotFound{ID: id}
}

// spawnOnly restricts the Controller surface a branch receives to worker
// spawning and routing; conversation-facing tools fail.
type spawnOnly struct{ c *Channel }

func (s spawnOnly) Reply(context.Context, string) error { return errors.New("reply is channel-only") }
func (s spawnOnly) Branch(context.Context, string, int) (string, error) {
	return "", errors.New("branches cannot fork branches")
}
func (s spawnOnly) SpawnWorker(ctx context.Context, task string, interactive bool, binding string, notify bool) (string, error) {
	return s.c.SpawnWorker(ctx, task, interactive, binding, notify)
}
func (s spawnOnly) Route(ctx context.Context, workerID, text string) error {
	return s.c.Route(ctx, workerID, text)
}
func (s spawnOnly) Cancel(ctx context.Context, id string) error { return s.c.Cancel(ctx, id) }
func (s spawnOnly) Skip()                                       {}
func (s spawnOnly) React(context.Context, string) error {
	return errors.New("react is channel-only")
}
func (s spawnOnly) SendFile(context.Context, string, []byte) error {
	return errors.New("send_file is channel-only")
}
func (s spawnOnly) SendMessage(context.Context, string, string) error {
	return errors.New("send_message is channel-only")
}
