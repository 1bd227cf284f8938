package mcp

import (
	"context"
	"testing"

	"github.com/nevindra/spacebot/internal/config"
)

func TestNamespacedName(t *testing.T) {
	cases := []struct {
		server, tool, want string
	}{
		{"github", "create_issue", "github_create_issue"},
		{"my-server", "do.things", "my_server_do_things"},
		{"a b", "x/y", "a_b_x_y"},
	}
	for _, c := range cases {
		if got := NamespacedName(c.server, c.tool); got != c.want {
			t.Errorf("NamespacedName(%q, %q) = %q, want %q", c.server, c.tool, got, c.want)
		}
	}
}

func TestServerConfigEqual(t *testing.T) {
	base := config.MCPServerConfig{
		Name: "s", Transport: "stdio", Command: "run",
		Args: []string{"-a"}, Headers: map[string]string{"k": "v"},
	}

	same := base
	same.Args = []string{"-a"}
	same.Headers = map[string]string{"k": "v"}
	if !base.Equal(same) {
		t.Error("identical configs should be equal")
	}

	changedArgs := base
	changedArgs.Args = []string{"-b"}
	if base.Equal(changedArgs) {
		t.Error("changed args should not be equal")
	}

	changedHeader := base
	changedHeader.Headers = map[string]string{"k": "other"}
	if base.Equal(changedHeader) {
		t.Error("changed headers should not be equal")
	}
}

func TestReconcileDiffsByName(t *testing.T) {
	old := []config.MCPServerConfig{
		{Name: "keep", Command: "true"},
		{Name: "change", Command: "true", Args: []string{"v1"}},
		{Name: "drop", Command: "true"},
	}
	m := NewManager(old, nil)

	m.mu.Lock()
	kept := m.connections["keep"]
	changed := m.connections["change"]
	m.mu.Unlock()

	next := []config.MCPServerConfig{
		{Name: "keep", Command: "true"},
		{Name: "change", Command: "true", Args: []string{"v2"}},
		{Name: "added", Command: "true"},
	}
	m.Reconcile(context.Background(), next)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.connections["drop"]; ok {
		t.Error("removed server should be disconnected and forgotten")
	}
	if _, ok := m.connections["added"]; !ok {
		t.Error("added server should be present")
	}
	// Unchanged servers keep their connection object (no reconnect).
	if m.connections["keep"] != kept {
		t.Error("unchanged server must not be reconnected")
	}
	// Changed servers get a fresh connection.
	if m.connections["change"] == changed {
		t.Error("changed server must be replaced")
	}
	if got := m.connections["change"].cfg.Args[0]; got != "v2" {
		t.Errorf("changed server should carry new config, got %q", got)
	}
}

func TestInterpolateEnvPlaceholders(t *testing.T) {
	t.Setenv("MCP_TOKEN", "secret")
	if got := interpolateEnv("Bearer ${MCP_TOKEN}"); got != "Bearer secret" {
		t.Errorf("interpolation failed: %q", got)
	}
	// Unknown placeholders pass through untouched.
	if got := interpolateEnv("${NOT_SET_XYZ}"); got != "${NOT_SET_XYZ}" {
		t.Errorf("unknown placeholder mangled: %q", got)
	}
}

func TestConnectionStateMachine(t *testing.T) {
	c := NewConnection(config.MCPServerConfig{Name: "bad", Command: "/nonexistent-binary-xyz"}, nil)
	if state, _ := c.State(); state != Disconnected {
		t.Errorf("initial state %v", state)
	}
	if err := c.Connect(context.Background()); err == nil {
		t.Error("expected connect failure for a missing binary")
	}
	state, reason := c.State()
	if state != Failed {
		t.Errorf("expected Failed, got %v", state)
	}
	if reason == "" {
		t.Error("expected a failure reason")
	}
}
