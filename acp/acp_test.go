package acp

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nevindra/spacebot/internal/config"
)

func TestResolveCommandLiteral(t *testing.T) {
	got, err := ResolveCommand("/usr/bin/claude")
	if err != nil || got != "/usr/bin/claude" {
		t.Errorf("literal command: %q, %v", got, err)
	}
}

func TestResolveCommandEnvIndirection(t *testing.T) {
	t.Setenv("TEST_ACP_BIN", "/opt/agent")
	got, err := ResolveCommand("env:TEST_ACP_BIN")
	if err != nil || got != "/opt/agent" {
		t.Errorf("env command: %q, %v", got, err)
	}

	if _, err := ResolveCommand("env:NOT_SET_AT_ALL_123"); err == nil {
		t.Error("expected error for unset env var")
	}
	if _, err := ResolveCommand(""); err == nil {
		t.Error("expected error for empty command")
	}
}

// fakeAgent speaks just enough ACP over the given pipes to drive a session:
// it answers initialize, session/new, and session/prompt, emitting a
// session/update notification before each prompt response.
func fakeAgent(t *testing.T, in io.Reader, out io.Writer) {
	t.Helper()
	scanner := bufio.NewScanner(in)
	write := func(v any) {
		data, _ := json.Marshal(v)
		out.Write(append(data, '\n'))
	}
	for scanner.Scan() {
		var req struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		switch req.Method {
		case "initialize":
			write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"protocolVersion": 1}})
		case "session/new":
			write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"sessionId": "sess-1"}})
		case "session/prompt":
			write(map[string]any{"jsonrpc": "2.0", "method": "session/update", "params": map[string]any{
				"sessionId": "sess-1",
				"update": map[string]any{
					"sessionUpdate": "agent_message_chunk",
					"content":       map[string]any{"type": "text", "text": "chunk "},
				},
			}})
			write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"stopReason": "end_turn"}})
		case "session/cancel":
			// notification; no response
		}
	}
}

func TestConnSessionLifecycle(t *testing.T) {
	clientIn, agentOut := io.Pipe()
	agentIn, clientOut := io.Pipe()
	go fakeAgent(t, agentIn, agentOut)

	conn := NewConn(clientOut, clientIn)
	var updates []string
	conn.OnNotify = func(method string, params json.RawMessage) {
		var u sessionUpdate
		json.Unmarshal(params, &u)
		updates = append(updates, u.Update.Content.Text)
	}

	if err := conn.Call("initialize", initializeParams{ProtocolVersion: 1}, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var sess newSessionResult
	if err := conn.Call("session/new", newSessionParams{CWD: "/tmp"}, &sess); err != nil {
		t.Fatalf("session/new: %v", err)
	}
	if sess.SessionID != "sess-1" {
		t.Errorf("session id %q", sess.SessionID)
	}

	var res promptResult
	if err := conn.Call("session/prompt", promptParams{
		SessionID: sess.SessionID,
		Prompt:    []contentBlock{{Type: "text", Text: "do it"}},
	}, &res); err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if res.StopReason != "end_turn" {
		t.Errorf("stop reason %q", res.StopReason)
	}

	// The streaming notification arrived before the prompt response.
	if len(updates) != 1 || updates[0] != "chunk " {
		t.Errorf("updates = %v", updates)
	}

	clientOut.Close()
}

func TestConnClosedStreamFailsPendingCalls(t *testing.T) {
	clientIn, agentOut := io.Pipe()
	_, clientOut := io.Pipe()

	conn := NewConn(clientOut, clientIn)
	done := make(chan error, 1)
	go func() {
		done <- conn.Call("initialize", initializeParams{}, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	agentOut.Close() // stream ends with the request pending

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error when stream closes mid-call")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call never failed")
	}
}

func TestConnAnswersAgentRequests(t *testing.T) {
	clientIn, agentOut := io.Pipe()
	agentIn, clientOut := io.Pipe()

	conn := NewConn(clientOut, clientIn)
	conn.OnRequest = func(method string, _ json.RawMessage) (any, error) {
		if method != "fs/read_text_file" {
			t.Errorf("unexpected method %s", method)
		}
		return map[string]any{"content": "file body"}, nil
	}

	// The agent sends a request; the client must write a matching result.
	go func() {
		req, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0", "id": 7, "method": "fs/read_text_file",
			"params": map[string]any{"path": "main.go"},
		})
		agentOut.Write(append(req, '\n'))
	}()

	scanner := bufio.NewScanner(agentIn)
	if !scanner.Scan() {
		t.Fatal("no response written")
	}
	var resp struct {
		ID     int64 `json:"id"`
		Result struct {
			Content string `json:"content"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.ID != 7 || resp.Error != nil || resp.Result.Content != "file body" {
		t.Errorf("unexpected response: %+v", resp)
	}
	clientOut.Close()
}

func TestConnRejectsRequestsWithoutHandler(t *testing.T) {
	clientIn, agentOut := io.Pipe()
	agentIn, clientOut := io.Pipe()
	// No OnRequest handler: every agent request must be rejected.
	NewConn(clientOut, clientIn)

	go func() {
		req, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0", "id": 1, "method": "terminal/create",
		})
		agentOut.Write(append(req, '\n'))
	}()

	scanner := bufio.NewScanner(agentIn)
	if !scanner.Scan() {
		t.Fatal("no response written")
	}
	var resp struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	json.Unmarshal(scanner.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Errorf("expected method-not-supported error, got %s", scanner.Text())
	}
	clientOut.Close()
}

func TestHandleAgentRequestConfinesPaths(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("l1\nl2\nl3"), 0o644)
	w := &Worker{Dir: dir}

	res, err := w.handleAgentRequest("fs/read_text_file",
		json.RawMessage(`{"path":"notes.txt","line":2,"limit":1}`))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := res.(map[string]any)["content"]; got != "l2" {
		t.Errorf("line/limit read = %q", got)
	}

	if _, err := w.handleAgentRequest("fs/read_text_file",
		json.RawMessage(`{"path":"../outside.txt"}`)); err == nil {
		t.Error("escape outside the worker dir should be refused")
	}

	if _, err := w.handleAgentRequest("fs/write_text_file",
		json.RawMessage(`{"path":"sub/out.txt","content":"x"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "sub", "out.txt"))
	if string(data) != "x" {
		t.Errorf("write landed wrong: %q", data)
	}
}

func TestHandleAgentRequestPicksAllowOption(t *testing.T) {
	w := &Worker{Dir: "/tmp"}
	res, err := w.handleAgentRequest("session/request_permission",
		json.RawMessage(`{"options":[{"optionId":"deny","kind":"reject_once"},{"optionId":"ok","kind":"allow_once"}]}`))
	if err != nil {
		t.Fatalf("permission: %v", err)
	}
	outcome := res.(map[string]any)["outcome"].(map[string]any)
	if outcome["optionId"] != "ok" {
		t.Errorf("expected allow option, got %v", outcome)
	}
}

// P13: kill escalation stays within the SIGTERM grace plus a constant.
func TestProcessKillTerminatesWithinGrace(t *testing.T) {
	proc, err := Spawn(config.ACPAgentConfig{
		Command: "sh",
		Args:    []string{"-c", "sleep 60"},
	}, t.TempDir())
	if err != nil {
		t.Skipf("cannot spawn sh: %v", err)
	}

	start := time.Now()
	proc.Kill()
	elapsed := time.Since(start)

	if elapsed > killGrace+time.Second {
		t.Errorf("kill took %s, want ≤ %s", elapsed, killGrace+time.Second)
	}
	if proc.Alive() {
		t.Error("process should be dead after Kill")
	}
}

func TestStderrCaptureIsBounded(t *testing.T) {
	proc, err := Spawn(config.ACPAgentConfig{
		Command: "sh",
		Args:    []string{"-c", "yes error-line | head -c 200000 >&2"},
	}, t.TempDir())
	if err != nil {
		t.Skipf("cannot spawn sh: %v", err)
	}
	_ = proc.wait()

	tail := proc.StderrTail(maxStderrBytes + 1)
	if len(tail) > maxStderrBytes {
		t.Errorf("stderr capture exceeded cap: %d bytes", len(tail))
	}
	if len(tail) == 0 {
		t.Error("expected some stderr captured")
	}

	short := proc.StderrTail(100)
	if len(short) != 100 {
		t.Errorf("tail(100) returned %d bytes", len(short))
	}
}
