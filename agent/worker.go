package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/llm"
	"github.com/nevindra/spacebot/store/sqlite"
	"github.com/nevindra/spacebot/tools/exec"
	"github.com/nevindra/spacebot/tools/file"
	"github.com/nevindra/spacebot/tools/search"
	"github.com/nevindra/spacebot/tools/shell"
	"github.com/nevindra/spacebot/tools/status"
	"github.com/nevindra/spacebot/tools/tasktools"
)

// maxWorkerIterations bounds the task worker's tool loop.
const maxWorkerIterations = 15

// TaskWorker is the one-shot tool-using executor: shell, file, exec,
// web_search, task and status tools, confined to the agent workspace.
type TaskWorker struct {
	ID        spacebot.WorkerID
	ChannelID spacebot.ChannelID
	Task      string

	deps  Deps
	tools *spacebot.ToolServer
}

// NewTaskWorker builds a worker and its tool surface.
func NewTaskWorker(channelID spacebot.ChannelID, deps Deps, task string) *TaskWorker {
	w := &TaskWorker{
		ID:        spacebot.NewWorkerID(),
		ChannelID: channelID,
		Task:      task,
		deps:      deps,
	}

	tools := spacebot.NewToolServer()
	tools.Add("worker",
		shell.New(deps.Workspace, 30),
		file.New(deps.Workspace, deps.DataDir),
		exec.New(deps.Workspace, 60),
		tasktools.New(deps.Store, w.ID.String()),
		status.New(w.publishStatus),
	)
	if deps.BraveAPIKey != "" {
		tools.Add("worker", search.New(deps.BraveAPIKey))
	}
	w.tools = tools
	return w
}

func (w *TaskWorker) publishStatus(s string) {
	w.deps.Events.Publish(spacebot.ProcessEvent{
		Kind:      spacebot.EventWorkerStatus,
		AgentID:   w.deps.AgentID,
		ChannelID: w.ChannelID,
		WorkerID:  w.ID,
		Status:    s,
	})
}

const workerSystemPrompt = `You are a worker process executing one task inside a workspace directory. You have shell, file, and exec tools; everything you touch must stay inside the workspace. Work the task to completion, then report the outcome in a final message.`

// Run executes the worker loop until completion, timeout, or cancellation.
// The outcome is persisted to worker_runs either way: the final message on
// success, the partial transcript on failure.
func (w *TaskWorker) Run(ctx context.Context) (string, error) {
	run := sqlite.WorkerRun{
		ID:        w.ID.String(),
		ChannelID: w.ChannelID,
		Task:      w.Task,
		Kind:      "task",
		Status:    "running",
		StartedAt: spacebot.NowUnix(),
	}
	if err := w.deps.Store.InsertWorkerRun(ctx, run); err != nil {
		w.deps.logger().Warn("failed to record worker run", "worker_id", w.ID, "error", err)
	}

	result, err := w.loop(ctx)

	finalStatus := "completed"
	switch {
	case err != nil && llm.Cancelled(err):
		finalStatus = "cancelled"
	case ctx.Err() == context.DeadlineExceeded:
		finalStatus = "timed_out"
	case err != nil:
		finalStatus = "failed"
	}
	// Persist with a fresh context: the run context may already be dead.
	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ferr := w.deps.Store.FinishWorkerRun(finishCtx, w.ID.String(), finalStatus, result); ferr != nil {
		w.deps.logger().Warn("failed to finish worker run", "worker_id", w.ID, "error", ferr)
	}
	w.publishStatus(finalStatus)

	if err != nil {
		return "", err
	}
	return result, nil
}

func (w *TaskWorker) loop(ctx context.Context) (string, error) {
	routing := w.deps.Runtime.Routing()
	model := llm.ModelForTier(w.deps.LLM, routing, llm.TierWorker)

	messages := []spacebot.ChatMessage{
		spacebot.SystemMessage(workerSystemPrompt),
		spacebot.UserMessage(w.Task),
	}

	var transcript strings.Builder
	var lastText string

	for i := 0; i < maxWorkerIterations; i++ {
		resp, err := model.Completion(ctx, spacebot.CompletionRequest{
			Messages: messages,
			Tools:    w.tools.Definitions(),
		})
		if err != nil {
			return transcript.String(), fmt.Errorf("worker %s: %w", w.ID, err)
		}

		calls := resp.ToolCalls()
		if text := resp.Text(); text != "" {
			lastText = text
			transcript.WriteString(text + "\n")
		}
		messages = append(messages, spacebot.ChatMessage{
			Role: "assistant", Content: resp.Text(), ToolCalls: calls,
		})

		if len(calls) == 0 {
			break
		}
		for _, tc := range calls {
			w.deps.Events.Publish(spacebot.ProcessEvent{
				Kind:      spacebot.EventToolStarted,
				AgentID:   w.deps.AgentID,
				ChannelID: w.ChannelID,
				WorkerID:  w.ID,
				Tool:      tc.Name,
			})
			result, err := w.tools.Execute(ctx, tc.Name, tc.Args)
			content := result.Content
			if err != nil {
				content = "error: " + err.Error()
			} else if result.Error != "" {
				content = "error: " + result.Error
			}
			w.deps.Events.Publish(spacebot.ProcessEvent{
				Kind:      spacebot.EventToolCompleted,
				AgentID:   w.deps.AgentID,
				ChannelID: w.ChannelID,
				WorkerID:  w.ID,
				Tool:      tc.Name,
			})
			fmt.Fprintf(&transcript, "[%s] %s\n", tc.Name, firstLine(content))
			messages = append(messages, spacebot.ToolResultMessage(tc.ID, content))
		}
	}

	if lastText == "" {
		lastText = "(worker produced no output)"
	}
	return lastText, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
