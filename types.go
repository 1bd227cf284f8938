package spacebot

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// --- Identifiers ---

// AgentID names one independent agent (personality + storage + config).
// Short, lowercase, ≤64 chars: see ValidAgentID.
type AgentID = string

// ChannelID is a platform-scoped conversation key, e.g.
// "slack:TEAM:CHAN", "discord:123456", "cron:morning-report".
type ChannelID = string

// WorkerID identifies a Worker process.
type WorkerID = uuid.UUID

// BranchID identifies a Branch process.
type BranchID = uuid.UUID

// ProcessKind discriminates ProcessID.
type ProcessKind int

const (
	ProcessChannel ProcessKind = iota
	ProcessBranch
	ProcessWorker
)

// ProcessID is a tagged reference to one process in the hierarchy.
// Exactly one of the id fields is meaningful, selected by Kind.
type ProcessID struct {
	Kind    ProcessKind
	Channel ChannelID
	Branch  BranchID
	Worker  WorkerID
}

// ValidAgentID reports whether id is a legal agent identifier:
// non-empty, at most 64 chars, drawn from [a-z0-9_-].
func ValidAgentID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		ok := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-'
		if !ok {
			return false
		}
	}
	return true
}

// --- Inbound messages ---

// MessageContent carries the payload of an inbound message: plain text,
// media with attachments, or a platform interaction (button press, action).
type MessageContent struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	// Interaction is the platform action id for button/interaction messages.
	Interaction string `json:"interaction,omitempty"`
}

// Attachment represents binary content (image, PDF, audio, etc.) carried
// inline. The MimeType determines how consumers interpret the data.
type Attachment struct {
	MimeType string `json:"mime_type"`
	Base64   string `json:"base64,omitempty"`
	URL      string `json:"url,omitempty"`
}

// InboundMessage is a message received from a messaging adapter.
// Immutable once created; Metadata is the sole carrier of platform-specific
// context (thread_ts, guild ids, mention flags, ...).
type InboundMessage struct {
	ID              string         `json:"id"`
	Source          string         `json:"source"`
	ConversationID  string         `json:"conversation_id"`
	SenderID        string         `json:"sender_id"`
	AgentID         AgentID        `json:"agent_id,omitempty"`
	Content         MessageContent `json:"content"`
	Timestamp       time.Time      `json:"timestamp"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	FormattedAuthor string         `json:"formatted_author,omitempty"`
}

// MetaString returns the string form of a metadata value, accepting both
// string and numeric encodings (platforms disagree on id types).
func (m *InboundMessage) MetaString(key string) (string, bool) {
	v, ok := m.Metadata[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	case json.Number:
		return t.String(), true
	}
	return "", false
}

// MetaBool returns the boolean form of a metadata value.
func (m *InboundMessage) MetaBool(key string) bool {
	v, ok := m.Metadata[key].(bool)
	return ok && v
}

// --- Outbound responses ---

// ResponseKind discriminates OutboundResponse.
type ResponseKind string

const (
	ResponseText             ResponseKind = "text"
	ResponseThreadReply      ResponseKind = "thread_reply"
	ResponseFile             ResponseKind = "file"
	ResponseReaction         ResponseKind = "reaction"
	ResponseRemoveReaction   ResponseKind = "remove_reaction"
	ResponseEphemeral        ResponseKind = "ephemeral"
	ResponseRichMessage      ResponseKind = "rich_message"
	ResponseScheduledMessage ResponseKind = "scheduled_message"
	ResponseStreamStart      ResponseKind = "stream_start"
	ResponseStreamChunk      ResponseKind = "stream_chunk"
	ResponseStreamEnd        ResponseKind = "stream_end"
	ResponseStatus           ResponseKind = "status"
)

// OutboundResponse is one response an agent sends back through an adapter.
// Adapters map each kind to what the platform supports; unsupported kinds
// degrade to plain text.
type OutboundResponse struct {
	Kind ResponseKind `json:"kind"`
	// Text carries the body for text, thread_reply, ephemeral, rich_message,
	// stream_chunk, and status responses.
	Text string `json:"text,omitempty"`
	// ThreadID targets thread replies.
	ThreadID string `json:"thread_id,omitempty"`
	// Emoji for reaction / remove_reaction.
	Emoji string `json:"emoji,omitempty"`
	// FileName and FileData for file responses.
	FileName string `json:"file_name,omitempty"`
	FileData []byte `json:"file_data,omitempty"`
	// Blocks carries platform-neutral rich blocks (adapter interprets).
	Blocks json.RawMessage `json:"blocks,omitempty"`
	// DeliverAt schedules a message for future delivery.
	DeliverAt time.Time `json:"deliver_at,omitempty"`
	// StreamID ties stream_start/chunk/end together.
	StreamID string `json:"stream_id,omitempty"`
}

// TextResponse builds a plain-text outbound response.
func TextResponse(text string) OutboundResponse {
	return OutboundResponse{Kind: ResponseText, Text: text}
}

// --- Process events ---

// EventKind discriminates ProcessEvent.
type EventKind string

const (
	EventBranchResult        EventKind = "branch_result"
	EventWorkerStatus        EventKind = "worker_status"
	EventWorkerResult        EventKind = "worker_result"
	EventToolStarted         EventKind = "tool_started"
	EventToolCompleted       EventKind = "tool_completed"
	EventMemorySaved         EventKind = "memory_saved"
	EventCompactionTriggered EventKind = "compaction_triggered"
	EventStatus              EventKind = "status"
)

// ProcessEvent is a structured record on the agent's broadcast bus: branch
// conclusions, worker status/completion, tool start/complete, memory saves,
// compaction triggers, and general status.
type ProcessEvent struct {
	Kind      EventKind `json:"kind"`
	AgentID   AgentID   `json:"agent_id"`
	ChannelID ChannelID `json:"channel_id,omitempty"`
	BranchID  BranchID  `json:"branch_id,omitempty"`
	WorkerID  WorkerID  `json:"worker_id,omitempty"`
	// Status carries worker status text or the status event body.
	Status string `json:"status,omitempty"`
	// Result carries branch conclusions and worker results.
	Result string `json:"result,omitempty"`
	// Tool is the tool name for tool_started / tool_completed.
	Tool string `json:"tool,omitempty"`
	// Notify indicates the spawner asked to be told about completion.
	Notify bool `json:"notify,omitempty"`
}

// --- LLM protocol types ---

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role        string       `json:"role"` // "system", "user", "assistant", "tool"
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID  string       `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolDefinition describes one tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// CompletionRequest is the provider-neutral request shape. Transports
// translate it into each provider's wire format.
type CompletionRequest struct {
	Messages  []ChatMessage    `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

// AssistantContent is one element of a completion choice: text or a tool
// call. Exactly one field is set.
type AssistantContent struct {
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// Usage is token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	CachedInput  int `json:"cached_input,omitempty"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.TotalTokens += u2.TotalTokens
	u.CachedInput += u2.CachedInput
}

// CompletionResponse is the provider-neutral response shape.
type CompletionResponse struct {
	Choice []AssistantContent `json:"choice"`
	Usage  Usage              `json:"usage"`
}

// Text concatenates the text parts of the choice.
func (r *CompletionResponse) Text() string {
	var out string
	for _, c := range r.Choice {
		out += c.Text
	}
	return out
}

// ToolCalls returns the tool calls in the choice, in order.
func (r *CompletionResponse) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, c := range r.Choice {
		if c.ToolCall != nil {
			calls = append(calls, *c.ToolCall)
		}
	}
	return calls
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
