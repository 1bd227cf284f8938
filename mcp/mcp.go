// Package mcp implements a Model Context Protocol client manager: stdio
// connections to external tool servers, tool discovery with cache
// invalidation, namespaced tool dispatch, and hot reconfiguration that only
// reconnects servers whose settings actually changed.
//
// The protocol is JSON-RPC 2.0, newline-delimited over the server
// subprocess's stdin/stdout.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
)

// protocolVersion is the MCP revision this client requests.
const protocolVersion = "2025-03-26"

// ConnectionState is the connection lifecycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

// ToolInfo is one tool advertised by a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Connection is one MCP server connection with its state machine
// Disconnected → Connecting → Connected | Failed.
type Connection struct {
	cfg    config.MCPServerConfig
	logger *slog.Logger

	mu     sync.Mutex
	state  ConnectionState
	reason string
	cmd    *exec.Cmd
	stdin  io.WriteCloser

	nextID  atomic.Int64
	pending map[int64]chan rpcResponse

	toolsMu    sync.Mutex
	tools      []ToolInfo
	toolsStale atomic.Bool
}

type rpcResponse struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewConnection creates a disconnected connection.
func NewConnection(cfg config.MCPServerConfig, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = spacebot.NopLogger()
	}
	return &Connection{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[int64]chan rpcResponse),
	}
}

// Name returns the server name.
func (c *Connection) Name() string { return c.cfg.Name }

// State returns the current connection state and failure reason.
func (c *Connection) State() (ConnectionState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.reason
}

// Connect spawns the server subprocess and performs the MCP handshake.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.state = Failed
		c.reason = err.Error()
		c.mu.Unlock()
		return err
	}

	if c.cfg.Transport != "" && c.cfg.Transport != "stdio" {
		return fail(fmt.Errorf("mcp: unsupported transport %q for %s", c.cfg.Transport, c.cfg.Name))
	}
	if c.cfg.Command == "" {
		return fail(fmt.Errorf("mcp: server %s has no command", c.cfg.Name))
	}

	args := make([]string, len(c.cfg.Args))
	for i, a := range c.cfg.Args {
		args[i] = interpolateEnv(a)
	}
	cmd := exec.Command(interpolateEnv(c.cfg.Command), args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("mcp: spawn %s: %w", c.cfg.Name, err))
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.mu.Unlock()

	go c.readLoop(stdout)

	// Handshake: initialize, then the initialized notification.
	var initResult json.RawMessage
	err = c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "spacebot", "version": "1"},
	}, &initResult)
	if err != nil {
		c.kill()
		return fail(fmt.Errorf("mcp: initialize %s: %w", c.cfg.Name, err))
	}
	_ = c.notify("notifications/initialized", map[string]any{})

	c.mu.Lock()
	c.state = Connected
	c.reason = ""
	c.mu.Unlock()
	c.toolsStale.Store(true)
	c.logger.Info("mcp server connected", "server", c.cfg.Name)
	return nil
}

func (c *Connection) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 10<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Method == "notifications/tools/list_changed" {
			// Invalidate the cached tool list; next ListTools refetches.
			c.toolsStale.Store(true)
			continue
		}
		if resp.ID == nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	c.mu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	if c.state == Connected {
		c.state = Disconnected
	}
	c.mu.Unlock()
}

func (c *Connection) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("mcp: %s not connected", c.cfg.Name)
	}
	_, err = stdin.Write(append(data, '\n'))
	return err
}

func (c *Connection) call(ctx context.Context, method string, params any, result *json.RawMessage) error {
	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params}
	if err := c.write(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("mcp: %s closed before response to %s", c.cfg.Name, method)
		}
		if resp.Error != nil {
			return fmt.Errorf("mcp: %s: %s (%d)", method, resp.Error.Message, resp.Error.Code)
		}
		if result != nil {
			*result = resp.Result
		}
		return nil
	}
}

func (c *Connection) notify(method string, params any) error {
	return c.write(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// ListTools returns the server's tools, refetching when the cache was
// invalidated by a toolListChanged notification.
func (c *Connection) ListTools(ctx context.Context) ([]ToolInfo, error) {
	c.toolsMu.Lock()
	defer c.toolsMu.Unlock()
	if !c.toolsStale.Load() && c.tools != nil {
		return c.tools, nil
	}

	var raw json.RawMessage
	if err := c.call(ctx, "tools/list", map[string]any{}, &raw); err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("mcp: parse tools/list: %w", err)
	}
	c.tools = parsed.Tools
	c.toolsStale.Store(false)
	return c.tools, nil
}

// CallTool invokes a tool by its unnamespaced name.
func (c *Connection) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	var raw json.RawMessage
	err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args}, &raw)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("mcp: parse tools/call result: %w", err)
	}
	var b strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if parsed.IsError {
		return "", fmt.Errorf("mcp tool %s: %s", name, b.String())
	}
	return b.String(), nil
}

// Disconnect terminates the server subprocess.
func (c *Connection) Disconnect() {
	c.kill()
	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
}

func (c *Connection) kill() {
	c.mu.Lock()
	cmd := c.cmd
	stdin := c.stdin
	c.cmd = nil
	c.stdin = nil
	c.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`)

// interpolateEnv substitutes ${VAR} placeholders; Connect applies it to the
// command and args.
func interpolateEnv(s string) string {
	return envPlaceholder.ReplaceAllStringFunc(s, func(m string) string {
		name := envPlaceholder.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}
