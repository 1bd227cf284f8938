package agent

import (
	"context"
	"fmt"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/llm"
	"github.com/nevindra/spacebot/tools/memorytools"
	"github.com/nevindra/spacebot/tools/tasktools"
)

// Branch is a short-lived fork of a Channel's context: it thinks with
// memory and task tools without polluting the parent history, and returns
// one free-form conclusion string.
type Branch struct {
	ID          spacebot.BranchID
	ChannelID   spacebot.ChannelID
	Description string
	MaxTurns    int

	deps    Deps
	history []spacebot.ChatMessage
	tools   *spacebot.ToolServer
}

// NewBranch forks history into a fresh branch. extraTools lets the parent
// grant spawn_worker to channel-originated branches.
func NewBranch(channelID spacebot.ChannelID, deps Deps, history []spacebot.ChatMessage, description string, maxTurns int, extraTools ...spacebot.Tool) *Branch {
	limits := deps.Runtime.Limits()
	if maxTurns <= 0 {
		maxTurns = limits.BranchMaxTurns
	}

	tools := spacebot.NewToolServer()
	tools.Add("branch",
		memorytools.New(deps.Memory, deps.Store, channelID),
		tasktools.New(deps.Store, ""))
	for _, t := range extraTools {
		tools.Add("branch", t)
	}

	return &Branch{
		ID:          spacebot.NewBranchID(),
		ChannelID:   channelID,
		Description: description,
		MaxTurns:    maxTurns,
		deps:        deps,
		history:     cloneHistory(history),
		tools:       tools,
	}
}

const branchSystemPrompt = `You are a thinking branch of a conversation agent. You were forked to work on one thing:

%s

Use your memory and task tools as needed, then produce a single concluding message with what you figured out. The conclusion is all the parent conversation will see.`

// Run executes the branch loop and returns the conclusion. Cancelling ctx
// aborts the in-flight LLM call.
func (b *Branch) Run(ctx context.Context) (string, error) {
	routing := b.deps.Runtime.Routing()
	model := llm.ModelForTier(b.deps.LLM, routing, llm.TierBranch)

	messages := []spacebot.ChatMessage{
		spacebot.SystemMessage(fmt.Sprintf(branchSystemPrompt, b.Description)),
	}
	messages = append(messages, b.history...)
	messages = append(messages, spacebot.UserMessage(
		"Begin. Remember: your final message is the conclusion reported back."))

	var lastText string
	for turn := 0; turn < b.MaxTurns; turn++ {
		resp, err := model.Completion(ctx, spacebot.CompletionRequest{
			Messages: messages,
			Tools:    b.tools.Definitions(),
		})
		if err != nil {
			return "", fmt.Errorf("branch %s: %w", b.ID, err)
		}

		calls := resp.ToolCalls()
		if text := resp.Text(); text != "" {
			lastText = text
		}
		messages = append(messages, spacebot.ChatMessage{
			Role: "assistant", Content: resp.Text(), ToolCalls: calls,
		})

		if len(calls) == 0 {
			break
		}
		for _, tc := range calls {
			result, err := b.tools.Execute(ctx, tc.Name, tc.Args)
			content := result.Content
			if err != nil {
				content = "error: " + err.Error()
			} else if result.Error != "" {
				content = "error: " + result.Error
			}
			messages = append(messages, spacebot.ToolResultMessage(tc.ID, content))
		}
	}

	if lastText == "" {
		lastText = "(branch produced no conclusion)"
	}

	b.deps.Events.Publish(spacebot.ProcessEvent{
		Kind:      spacebot.EventBranchResult,
		AgentID:   b.deps.AgentID,
		ChannelID: b.ChannelID,
		BranchID:  b.ID,
		Result:    lastText,
	})
	return lastText, nil
}
