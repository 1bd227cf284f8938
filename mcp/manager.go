package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
)

// Manager holds the connections for one agent and exposes their tools
// behind namespaced names.
type Manager struct {
	logger *slog.Logger

	mu          sync.Mutex
	connections map[string]*Connection
}

// NewManager creates a manager for the given server list. Call ConnectAll
// to establish connections.
func NewManager(configs []config.MCPServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = spacebot.NopLogger()
	}
	m := &Manager{logger: logger, connections: make(map[string]*Connection)}
	for _, cfg := range configs {
		m.connections[cfg.Name] = NewConnection(cfg, logger)
	}
	return m
}

// ConnectAll connects every configured server. Failures are logged, not
// fatal — a broken tool server must not take the agent down.
func (m *Manager) ConnectAll(ctx context.Context) {
	for _, c := range m.snapshot() {
		if err := c.Connect(ctx); err != nil {
			m.logger.Warn("mcp connect failed", "server", c.Name(), "error", err)
		}
	}
}

// DisconnectAll tears down every connection.
func (m *Manager) DisconnectAll() {
	for _, c := range m.snapshot() {
		c.Disconnect()
	}
}

func (m *Manager) snapshot() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, c)
	}
	return out
}

// Reconcile diffs the old connection set against a new config list:
// removed servers disconnect, added servers connect, and only servers
// whose transport/command/args/url/headers changed are reconnected.
func (m *Manager) Reconcile(ctx context.Context, newConfigs []config.MCPServerConfig) {
	byName := make(map[string]config.MCPServerConfig, len(newConfigs))
	for _, cfg := range newConfigs {
		byName[cfg.Name] = cfg
	}

	m.mu.Lock()
	var toDisconnect, toConnect []*Connection
	for name, conn := range m.connections {
		newCfg, stillWanted := byName[name]
		switch {
		case !stillWanted:
			delete(m.connections, name)
			toDisconnect = append(toDisconnect, conn)
		case !conn.cfg.Equal(newCfg):
			// Changed: replace and reconnect.
			delete(m.connections, name)
			toDisconnect = append(toDisconnect, conn)
			replacement := NewConnection(newCfg, m.logger)
			m.connections[name] = replacement
			toConnect = append(toConnect, replacement)
		}
	}
	for name, cfg := range byName {
		if _, exists := m.connections[name]; !exists {
			added := NewConnection(cfg, m.logger)
			m.connections[name] = added
			toConnect = append(toConnect, added)
		}
	}
	m.mu.Unlock()

	for _, c := range toDisconnect {
		m.logger.Info("mcp server removed or changed, disconnecting", "server", c.Name())
		c.Disconnect()
	}
	for _, c := range toConnect {
		if err := c.Connect(ctx); err != nil {
			m.logger.Warn("mcp connect failed", "server", c.Name(), "error", err)
		}
	}
}

var toolNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// NamespacedName builds "<server>_<tool>" with non-alphanumerics collapsed
// to underscores, safe across providers.
func NamespacedName(server, tool string) string {
	s := toolNameSanitizer.ReplaceAllString(server, "_")
	t := toolNameSanitizer.ReplaceAllString(tool, "_")
	return s + "_" + t
}

// Tools returns a spacebot.Tool exposing every connected server's tools
// under namespaced names.
func (m *Manager) Tools(ctx context.Context) spacebot.Tool {
	return &managerTool{mgr: m, ctx: ctx}
}

// managerTool adapts the manager's connections to the Tool interface.
// Definitions reflect the connection set at call time.
type managerTool struct {
	mgr *Manager
	ctx context.Context
}

func (t *managerTool) Definitions() []spacebot.ToolDefinition {
	var defs []spacebot.ToolDefinition
	for _, c := range t.mgr.snapshot() {
		if state, _ := c.State(); state != Connected {
			continue
		}
		tools, err := c.ListTools(t.ctx)
		if err != nil {
			t.mgr.logger.Warn("mcp list tools failed", "server", c.Name(), "error", err)
			continue
		}
		for _, info := range tools {
			params := info.InputSchema
			if len(params) == 0 {
				params = json.RawMessage(`{"type":"object"}`)
			}
			defs = append(defs, spacebot.ToolDefinition{
				Name:        NamespacedName(c.Name(), info.Name),
				Description: info.Description,
				Parameters:  params,
			})
		}
	}
	return defs
}

func (t *managerTool) Execute(ctx context.Context, name string, args json.RawMessage) (spacebot.ToolResult, error) {
	for _, c := range t.mgr.snapshot() {
		prefix := toolNameSanitizer.ReplaceAllString(c.Name(), "_") + "_"
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		tools, err := c.ListTools(ctx)
		if err != nil {
			return spacebot.ToolResult{}, err
		}
		for _, info := range tools {
			if NamespacedName(c.Name(), info.Name) == name {
				out, err := c.CallTool(ctx, info.Name, args)
				if err != nil {
					return spacebot.ToolResult{Error: err.Error()}, nil
				}
				return spacebot.ToolResult{Content: spacebot.TruncateOutput(out, spacebot.MaxToolOutputBytes)}, nil
			}
		}
	}
	return spacebot.ToolResult{Error: fmt.Sprintf("unknown tool: %s", name)}, nil
}
