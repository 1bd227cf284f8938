package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func exec(t *testing.T, tool *Tool, args string) (string, string) {
	t.Helper()
	res, err := tool.Execute(context.Background(), "file", json.RawMessage(args))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return res.Content, res.Error
}

func TestWriteThenRead(t *testing.T) {
	ws := t.TempDir()
	tool := New(ws)

	if _, errStr := exec(t, tool, `{"action":"write","path":"notes/a.txt","content":"hello"}`); errStr != "" {
		t.Fatalf("write: %s", errStr)
	}
	content, errStr := exec(t, tool, `{"action":"read","path":"notes/a.txt"}`)
	if errStr != "" || content != "hello" {
		t.Errorf("read: %q, %s", content, errStr)
	}
}

func TestEscapeOutsideWorkspaceRefused(t *testing.T) {
	ws := t.TempDir()
	tool := New(ws)

	for _, path := range []string{"../outside.txt", "/etc/passwd", "a/../../x"} {
		args := `{"action":"read","path":"` + path + `"}`
		_, errStr := exec(t, tool, args)
		if errStr == "" {
			t.Errorf("path %q should be refused", path)
		}
		if !strings.Contains(errStr, "outside the workspace") {
			t.Errorf("path %q: expected permission refusal, got %s", path, errStr)
		}
	}
}

func TestDeniedDirectoriesRefused(t *testing.T) {
	ws := t.TempDir()
	data := filepath.Join(ws, "data")
	os.MkdirAll(data, 0o755)
	os.WriteFile(filepath.Join(data, "agent.db"), []byte("secret"), 0o644)

	tool := New(ws, data)
	_, errStr := exec(t, tool, `{"action":"read","path":"data/agent.db"}`)
	if errStr == "" {
		t.Error("reads into the data directory should be refused")
	}
	_, errStr = exec(t, tool, `{"action":"write","path":"data/agent.db","content":"x"}`)
	if errStr == "" {
		t.Error("writes into the data directory should be refused")
	}
}

func TestListCapsEntries(t *testing.T) {
	ws := t.TempDir()
	os.WriteFile(filepath.Join(ws, "one.txt"), []byte("1"), 0o644)
	os.MkdirAll(filepath.Join(ws, "sub"), 0o755)

	tool := New(ws)
	content, errStr := exec(t, tool, `{"action":"list","path":"."}`)
	if errStr != "" {
		t.Fatalf("list: %s", errStr)
	}
	if !strings.Contains(content, "one.txt") || !strings.Contains(content, "sub/") {
		t.Errorf("listing missing entries: %q", content)
	}
}
