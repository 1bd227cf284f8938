package agent

import (
	"fmt"
	"strings"

	spacebot "github.com/nevindra/spacebot"
)

// historyChars measures a history's size in characters. Character length is
// the consistent usage proxy across the codebase (tool outputs are already
// byte-capped, so chars track context consumption closely enough for
// threshold decisions).
func historyChars(history []spacebot.ChatMessage) int {
	total := 0
	for _, m := range history {
		total += len(m.Content)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + len(tc.Args)
		}
	}
	return total
}

// cloneHistory copies a history slice so a Branch can mutate its fork
// freely.
func cloneHistory(history []spacebot.ChatMessage) []spacebot.ChatMessage {
	out := make([]spacebot.ChatMessage, len(history))
	copy(out, history)
	return out
}

// renderTranscript flattens turns into archive text.
func renderTranscript(history []spacebot.ChatMessage) string {
	var b strings.Builder
	for _, m := range history {
		if m.Content != "" {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "%s: [tool %s] %s\n", m.Role, tc.Name, tc.Args)
		}
	}
	return b.String()
}

// branchNote formats a branch conclusion as a synthetic user turn.
func branchNote(id spacebot.BranchID, conclusion string) spacebot.ChatMessage {
	return spacebot.UserMessage(fmt.Sprintf("[Branch %s]: %s", id, conclusion))
}

// workerNote formats a worker completion as a synthetic user turn.
func workerNote(id spacebot.WorkerID, result string) spacebot.ChatMessage {
	return spacebot.UserMessage(fmt.Sprintf("[Worker %s]: %s", id, result))
}
