package agent

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
	"github.com/nevindra/spacebot/llm"
	"github.com/nevindra/spacebot/memory"
	"github.com/nevindra/spacebot/messaging"
	"github.com/nevindra/spacebot/store/sqlite"
)

// scriptedTransport delegates to a func so tests control every completion.
type scriptedTransport struct {
	fn func(model string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error)
}

func (s *scriptedTransport) Complete(_ context.Context, model string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
	return s.fn(model, req)
}

func textCompletion(text string) spacebot.CompletionResponse {
	return spacebot.CompletionResponse{Choice: []spacebot.AssistantContent{{Text: text}}}
}

func toolCompletion(id, name, args string) spacebot.CompletionResponse {
	return spacebot.CompletionResponse{Choice: []spacebot.AssistantContent{{
		ToolCall: &spacebot.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)},
	}}}
}

// testDeps builds a full Deps over a temp store and a scripted LLM.
func testDeps(t *testing.T, transport llmTransport) Deps {
	t.Helper()

	store := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manager := llm.NewManager(config.LLMConfig{}, nil)
	manager.RegisterProvider(llm.ProviderConfig{Name: "fake"}, transport)

	d := config.DefaultConfig().Defaults
	d.Routing.Channel = "fake/model"
	d.Routing.Branch = "fake/model"
	d.Routing.Worker = "fake/model"
	d.Routing.Compactor = "fake/model"
	d.Routing.Cortex = "fake/model"

	return Deps{
		AgentID:   "test",
		Store:     store,
		LLM:       manager,
		Runtime:   config.NewRuntimeConfig(d),
		Events:    spacebot.NewEventBus(nil),
		Memory:    memory.NewStoreSearch(store, nil),
		Messaging: messaging.NewManager(nil),
		Workspace: t.TempDir(),
	}
}

// llmTransport mirrors llm.Transport without importing its name everywhere.
type llmTransport interface {
	Complete(ctx context.Context, model string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error)
}

// --- P1: one in-flight turn per channel ---

func TestChannelSerializesTurns(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	transport := &scriptedTransport{fn: func(_ string, _ spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		n := inFlight.Add(1)
		for {
			old := maxInFlight.Load()
			if n <= old || maxInFlight.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return textCompletion("ok"), nil
	}}

	deps := testDeps(t, transport)
	ch := NewChannel("conv-1", deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	for i := 0; i < 5; i++ {
		msg := spacebot.InboundMessage{
			ID: spacebot.NewID(), Source: "test", ConversationID: "conv-1",
			SenderID: "u", Content: spacebot.MessageContent{Text: "hello"},
		}
		if err := ch.Enqueue(ctx, msg, nil); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	ch.CloseInbox()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("expected at most one in-flight turn, observed %d", got)
	}
}

// --- P2: branch limit surfaces the typed error ---

func TestBranchLimitReached(t *testing.T) {
	transport := &scriptedTransport{fn: func(_ string, _ spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		return textCompletion("conclusion"), nil
	}}
	deps := testDeps(t, transport)

	d := config.DefaultConfig().Defaults
	d.Routing = deps.Runtime.Routing()
	d.MaxConcurrentBranches = 0
	deps.Runtime.Apply(d)

	ch := NewChannel("conv-1", deps)
	ch.runCtx = context.Background()

	_, err := ch.Branch(context.Background(), "think about it", 0)
	if err == nil {
		t.Fatal("expected branch limit error")
	}
	var limitErr *spacebot.ErrBranchLimit
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected ErrBranchLimit, got %T: %v", err, err)
	}
}

func TestBranchReturnsConclusion(t *testing.T) {
	transport := &scriptedTransport{fn: func(_ string, _ spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		return textCompletion("the answer is 42"), nil
	}}
	deps := testDeps(t, transport)
	ch := NewChannel("conv-1", deps)
	ch.runCtx = context.Background()

	conclusion, err := ch.Branch(context.Background(), "compute the answer", 0)
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	if conclusion != "the answer is 42" {
		t.Errorf("unexpected conclusion %q", conclusion)
	}

	// Bookkeeping: no live branch left behind.
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.branches) != 0 {
		t.Errorf("expected 0 live branches, got %d", len(ch.branches))
	}
}

// --- reply / skip semantics ---

func TestSkipSuppressesReply(t *testing.T) {
	// Turn script: skip, then reply, then finish.
	step := 0
	transport := &scriptedTransport{fn: func(_ string, _ spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		step++
		switch step {
		case 1:
			return toolCompletion("1", "skip", `{}`), nil
		case 2:
			return toolCompletion("2", "reply", `{"text":"should be suppressed"}`), nil
		default:
			return textCompletion("done"), nil
		}
	}}
	deps := testDeps(t, transport)
	ch := NewChannel("conv-1", deps)

	var mu sync.Mutex
	var sent []spacebot.OutboundResponse
	respond := func(_ context.Context, resp spacebot.OutboundResponse) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, resp)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	msg := spacebot.InboundMessage{
		ID: spacebot.NewID(), Source: "test", ConversationID: "conv-1",
		SenderID: "u", Content: spacebot.MessageContent{Text: "ping"},
	}
	if err := ch.Enqueue(ctx, msg, respond); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ch.CloseInbox()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 0 {
		t.Errorf("expected no responses after skip, got %d", len(sent))
	}
}

func TestReplyEmitsText(t *testing.T) {
	step := 0
	transport := &scriptedTransport{fn: func(_ string, _ spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		step++
		if step == 1 {
			return toolCompletion("1", "reply", `{"text":"hello there"}`), nil
		}
		return textCompletion("done"), nil
	}}
	deps := testDeps(t, transport)
	ch := NewChannel("conv-1", deps)

	var mu sync.Mutex
	var sent []spacebot.OutboundResponse
	respond := func(_ context.Context, resp spacebot.OutboundResponse) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, resp)
		return nil
	}

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	msg := spacebot.InboundMessage{
		ID: spacebot.NewID(), Source: "test", ConversationID: "conv-1",
		SenderID: "u", Content: spacebot.MessageContent{Text: "hi"},
	}
	if err := ch.Enqueue(ctx, msg, respond); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ch.CloseInbox()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || sent[0].Text != "hello there" {
		t.Errorf("expected one text response, got %+v", sent)
	}
}

// --- stale per-turn tools ---

func TestPerTurnToolsDetachedBetweenTurns(t *testing.T) {
	transport := &scriptedTransport{fn: func(_ string, _ spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		return textCompletion("ok"), nil
	}}
	deps := testDeps(t, transport)
	ch := NewChannel("conv-1", deps)

	res, _ := ch.tools.Execute(context.Background(), "reply", json.RawMessage(`{"text":"x"}`))
	if res.Error == "" {
		t.Error("reply should be unknown outside a turn")
	}
}

// --- synthetic turns (cron path) ---

func TestRunSyntheticTurnCollectsText(t *testing.T) {
	step := 0
	transport := &scriptedTransport{fn: func(_ string, _ spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		step++
		if step == 1 {
			return toolCompletion("1", "reply", `{"text":"report body"}`), nil
		}
		return textCompletion("done"), nil
	}}
	deps := testDeps(t, transport)
	a := New(deps)
	a.Start(context.Background())
	defer a.Shutdown()

	out, err := a.RunSyntheticTurn(context.Background(), "cron:job-1", "write the report", 5*time.Second)
	if err != nil {
		t.Fatalf("synthetic turn: %v", err)
	}
	if out != "report body" {
		t.Errorf("expected report body, got %q", out)
	}
}
