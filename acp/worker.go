package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
)

// stderrTailBytes is how much captured stderr is attached to a failure.
const stderrTailBytes = 2 * 1024

// defaultSessionTimeout bounds a session when the profile sets none.
const defaultSessionTimeout = 10 * time.Minute

// Result is the outcome of an ACP worker run.
type Result struct {
	SessionID  string
	ResultText string
}

// Worker drives one external coding-agent session. The subprocess speaks
// JSON-RPC over its pipes; streaming session notifications accumulate into
// the result text.
type Worker struct {
	ID        spacebot.WorkerID
	AgentID   spacebot.AgentID
	ChannelID spacebot.ChannelID
	Task      string
	Dir       string
	Config    config.ACPAgentConfig
	Events    *spacebot.EventBus

	// Input carries follow-up prompts for interactive workers; nil for
	// one-shot runs. Closing it ends the session.
	Input <-chan string
}

// Run executes the full session lifecycle: spawn, initialize, new session,
// prompt, optional follow-ups, terminate.
//
// The session loop runs on a dedicated OS thread (not a pooled one): ACP
// sessions are long-lived and chatty, and pinning them keeps the shared
// blocking pool free while the pipes still use the ambient runtime's I/O.
// The result comes back over a one-shot channel.
func (w *Worker) Run(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, &spacebot.ErrCancelled{Reason: "before start"}
	}
	w.status("starting ACP agent")

	proc, err := Spawn(w.Config, w.Dir)
	if err != nil {
		w.status("failed")
		return Result{}, fmt.Errorf("acp worker: %w", err)
	}

	timeout := defaultSessionTimeout
	if w.Config.TimeoutSecs > 0 {
		timeout = time.Duration(w.Config.TimeoutSecs) * time.Second
	}
	sessionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		res, err := w.runSession(sessionCtx, proc)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			var cancelled *spacebot.ErrCancelled
			if errors.As(out.err, &cancelled) {
				w.status("cancelled")
				proc.Kill()
				return Result{}, out.err
			}
			w.status("failed")
			// Kill before reading the tail: stderr capture only finishes
			// once the process closes the stream, and a live agent that
			// merely returned an RPC error keeps it open.
			proc.Kill()
			tail := proc.StderrTail(stderrTailBytes)
			if tail != "" {
				return Result{}, fmt.Errorf("acp worker failed: %w\nAgent stderr:\n%s", out.err, tail)
			}
			return Result{}, fmt.Errorf("acp worker failed: %w", out.err)
		}
		proc.Kill()
		w.status("completed")
		return out.result, nil

	case <-sessionCtx.Done():
		if ctx.Err() != nil {
			// Cancelled from above: the session goroutine already sent the
			// cancel notification (or will fail); stop the process now.
			w.status("cancelled")
			proc.Kill()
			<-done
			return Result{}, &spacebot.ErrCancelled{Reason: "channel cancelled worker"}
		}
		w.status("timed out")
		proc.Kill()
		<-done
		return Result{}, fmt.Errorf("acp worker timed out after %s", timeout)
	}
}

// runSession speaks the protocol over the process pipes. Stdin closes when
// the session ends, whatever the outcome, so the agent sees EOF and exits
// instead of waiting on a half-open pipe.
func (w *Worker) runSession(ctx context.Context, proc *Process) (Result, error) {
	defer proc.Stdin.Close()

	var resultMu sync.Mutex
	var resultText strings.Builder

	conn := NewConn(proc.Stdin, proc.Stdout)
	conn.OnNotify = func(method string, params json.RawMessage) {
		if method != "session/update" {
			return
		}
		var update sessionUpdate
		if err := json.Unmarshal(params, &update); err != nil {
			return
		}
		if text := update.Update.Content.Text; text != "" {
			resultMu.Lock()
			resultText.WriteString(text)
			resultMu.Unlock()
		}
	}
	conn.OnRequest = w.handleAgentRequest

	// Terminal support is not implemented, so it is not advertised.
	if err := conn.Call("initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      implementationInfo{Name: "spacebot", Version: "1"},
		Capabilities: clientCapabilities{
			FS:       fsCapability{ReadTextFile: true, WriteTextFile: true},
			Terminal: false,
		},
	}, nil); err != nil {
		return Result{}, fmt.Errorf("initialize: %w", err)
	}

	var session newSessionResult
	if err := conn.Call("session/new", newSessionParams{CWD: w.Dir}, &session); err != nil {
		return Result{}, fmt.Errorf("new session: %w", err)
	}
	w.status("sending task")

	cancelSession := func() {
		_ = conn.Notify("session/cancel", cancelParams{SessionID: session.SessionID})
	}

	if ctx.Err() != nil {
		cancelSession()
		return Result{}, &spacebot.ErrCancelled{Reason: "before prompt"}
	}

	prompt := func(text string) error {
		var res promptResult
		return conn.Call("session/prompt", promptParams{
			SessionID: session.SessionID,
			Prompt:    []contentBlock{{Type: "text", Text: text}},
		}, &res)
	}

	if err := promptInterruptible(ctx, prompt, cancelSession, w.Task); err != nil {
		return Result{}, err
	}

	// Interactive follow-up loop.
	if w.Input != nil {
		w.status("waiting for follow-up")
		for {
			select {
			case <-ctx.Done():
				cancelSession()
				return Result{}, &spacebot.ErrCancelled{Reason: "during follow-up wait"}
			case followUp, ok := <-w.Input:
				if !ok {
					goto finished
				}
				w.status("processing follow-up")

				resultMu.Lock()
				before := resultText.Len()
				resultMu.Unlock()

				if err := promptInterruptible(ctx, prompt, cancelSession, followUp); err != nil {
					return Result{}, err
				}

				resultMu.Lock()
				followUpText := resultText.String()[before:]
				resultMu.Unlock()
				if strings.TrimSpace(followUpText) != "" {
					w.Events.Publish(spacebot.ProcessEvent{
						Kind:      spacebot.EventWorkerResult,
						AgentID:   w.AgentID,
						ChannelID: w.ChannelID,
						WorkerID:  w.ID,
						Result:    followUpText,
					})
				}
				w.status("waiting for follow-up")
			}
		}
	}

finished:
	resultMu.Lock()
	text := resultText.String()
	resultMu.Unlock()
	return Result{SessionID: session.SessionID, ResultText: text}, nil
}

// promptInterruptible runs one prompt call, sending the cancel notification
// when ctx dies mid-prompt.
func promptInterruptible(ctx context.Context, prompt func(string) error, cancelSession func(), text string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- prompt(text) }()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
		return nil
	case <-ctx.Done():
		cancelSession()
		<-errCh
		return &spacebot.ErrCancelled{Reason: "cancelled mid-prompt"}
	}
}

// handleAgentRequest answers agent-initiated requests for the capabilities
// advertised at initialize: workspace-confined file reads/writes and
// permission prompts (granted — the worker already runs inside the
// sandboxed workspace the operator configured).
func (w *Worker) handleAgentRequest(method string, params json.RawMessage) (any, error) {
	switch method {
	case "fs/read_text_file":
		var p struct {
			Path  string `json:"path"`
			Line  int    `json:"line"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("bad params: %w", err)
		}
		path, err := w.resolvePath(p.Path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		content := string(data)
		if p.Line > 0 || p.Limit > 0 {
			lines := strings.Split(content, "\n")
			start := p.Line - 1
			if start < 0 {
				start = 0
			}
			if start > len(lines) {
				start = len(lines)
			}
			end := len(lines)
			if p.Limit > 0 && start+p.Limit < end {
				end = start + p.Limit
			}
			content = strings.Join(lines[start:end], "\n")
		}
		return map[string]any{"content": content}, nil

	case "fs/write_text_file":
		var p struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("bad params: %w", err)
		}
		path, err := w.resolvePath(p.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(p.Content), 0o644); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case "session/request_permission":
		var p struct {
			Options []struct {
				OptionID string `json:"optionId"`
				Kind     string `json:"kind"`
			} `json:"options"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("bad params: %w", err)
		}
		if len(p.Options) == 0 {
			return nil, fmt.Errorf("no permission options offered")
		}
		chosen := p.Options[0].OptionID
		for _, opt := range p.Options {
			if strings.HasPrefix(opt.Kind, "allow") {
				chosen = opt.OptionID
				break
			}
		}
		return map[string]any{
			"outcome": map[string]any{"outcome": "selected", "optionId": chosen},
		}, nil
	}
	return nil, fmt.Errorf("method not supported: %s", method)
}

// resolvePath confines agent file access to the worker's directory.
func (w *Worker) resolvePath(raw string) (string, error) {
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Dir, p)
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(w.Dir)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", &spacebot.ErrPermission{Op: "fs", Path: raw}
	}
	return abs, nil
}

func (w *Worker) status(s string) {
	w.Events.Publish(spacebot.ProcessEvent{
		Kind:      spacebot.EventWorkerStatus,
		AgentID:   w.AgentID,
		ChannelID: w.ChannelID,
		WorkerID:  w.ID,
		Status:    s,
	})
}

