// Package messaging defines the adapter contract and the manager that
// routes outbound responses to adapters. Concrete platform adapters
// (Discord, Slack, Twitch, Telegram, webchat) live outside this module and
// implement the Messaging interface.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	spacebot "github.com/nevindra/spacebot"
)

// Messaging is the contract a platform adapter satisfies.
type Messaging interface {
	// Name is the adapter's unique name ("discord", "slack", ...).
	Name() string
	// Start launches the adapter and returns its inbound message channel.
	// The channel closes when the adapter shuts down.
	Start(ctx context.Context) (<-chan spacebot.InboundMessage, error)
	// Respond delivers a response to the conversation a message came from.
	Respond(ctx context.Context, msg *spacebot.InboundMessage, resp spacebot.OutboundResponse) error
	// Broadcast delivers a response to a named target (channel id, user id)
	// with no originating message.
	Broadcast(ctx context.Context, target string, resp spacebot.OutboundResponse) error
	// HealthCheck reports adapter liveness.
	HealthCheck(ctx context.Context) error
	// Shutdown stops the adapter gracefully.
	Shutdown(ctx context.Context) error
}

// DeliveryTarget is a parsed "adapter:target" pair.
type DeliveryTarget struct {
	Adapter string
	Target  string
}

func (t DeliveryTarget) String() string { return t.Adapter + ":" + t.Target }

// ParseDeliveryTarget splits "adapter:target". Both sides must be
// non-empty.
func ParseDeliveryTarget(raw string) (DeliveryTarget, bool) {
	adapter, target, ok := strings.Cut(raw, ":")
	if !ok || adapter == "" || target == "" {
		return DeliveryTarget{}, false
	}
	return DeliveryTarget{Adapter: adapter, Target: target}, true
}

// Manager holds the live adapters and fans outbound work to them. Adapters
// are added with Register and removed with Remove; the config reload path
// calls neither.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]Messaging
	logger   *slog.Logger
}

// NewManager creates an empty adapter manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = spacebot.NopLogger()
	}
	return &Manager{adapters: make(map[string]Messaging), logger: logger}
}

// Register adds (or replaces) an adapter.
func (m *Manager) Register(a Messaging) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.Name()] = a
}

// Remove shuts down and removes an adapter.
func (m *Manager) Remove(ctx context.Context, name string) {
	m.mu.Lock()
	a, ok := m.adapters[name]
	delete(m.adapters, name)
	m.mu.Unlock()
	if ok {
		if err := a.Shutdown(ctx); err != nil {
			m.logger.Warn("adapter shutdown failed", "adapter", name, "error", err)
		}
	}
}

// Get returns an adapter by name.
func (m *Manager) Get(name string) (Messaging, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[name]
	return a, ok
}

// Names lists registered adapter names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.adapters))
	for n := range m.adapters {
		out = append(out, n)
	}
	return out
}

// Broadcast delivers a response through the named adapter. Rich responses
// degrade to plain text for adapters that reject them.
func (m *Manager) Broadcast(ctx context.Context, adapter, target string, resp spacebot.OutboundResponse) error {
	a, ok := m.Get(adapter)
	if !ok {
		return fmt.Errorf("messaging: unknown adapter %q", adapter)
	}
	err := a.Broadcast(ctx, target, resp)
	if err != nil && resp.Kind != spacebot.ResponseText {
		degraded := spacebot.TextResponse(RenderPlainText(resp.Text))
		m.logger.Debug("degrading response to text", "adapter", adapter, "kind", resp.Kind)
		return a.Broadcast(ctx, target, degraded)
	}
	return err
}

// ShutdownAll stops every adapter.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	adapters := m.adapters
	m.adapters = make(map[string]Messaging)
	m.mu.Unlock()
	for name, a := range adapters {
		if err := a.Shutdown(ctx); err != nil {
			m.logger.Warn("adapter shutdown failed", "adapter", name, "error", err)
		}
	}
}
