// Package anthropic translates provider-neutral completion requests into
// Anthropic Messages API calls using the official SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	spacebot "github.com/nevindra/spacebot"
)

// claudeCodePreamble is the fixed identity preamble required on the OAuth
// auth path. It is always the first system block for OAuth requests.
const claudeCodePreamble = "You are Claude Code, Anthropic's official CLI for Claude."

const defaultMaxTokens = 16_000

// Transport implements the llm.Transport contract for the Anthropic
// messages API.
type Transport struct {
	client sdk.Client
	oauth  bool
}

// New builds an Anthropic transport. When oauth is true the key is sent as
// a bearer token, the Claude-Code preamble is prepended, and tool names are
// normalized.
func New(apiKey, baseURL string, oauth bool) *Transport {
	opts := []option.RequestOption{}
	if oauth {
		opts = append(opts, option.WithAuthToken(apiKey))
	} else {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Transport{client: sdk.NewClient(opts...), oauth: oauth}
}

// supportsAdaptiveThinking gates the adaptive thinking block: only
// 4.6-generation models accept it.
func supportsAdaptiveThinking(model string) bool {
	for _, tag := range []string{"opus-4-6", "opus-4.6", "sonnet-4-6", "sonnet-4.6"} {
		if strings.Contains(model, tag) {
			return true
		}
	}
	return false
}

// thinkingEffort picks the default effort per model class: max for Opus,
// high for everything else.
func thinkingEffort(model string) string {
	if strings.Contains(model, "opus") {
		return "max"
	}
	return "high"
}

var toolNameNormalizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// normalizeToolName collapses characters the OAuth path rejects.
func normalizeToolName(name string) string {
	return toolNameNormalizer.ReplaceAllString(name, "_")
}

// Complete implements the transport contract.
func (t *Transport) Complete(ctx context.Context, model string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
	}

	// System prompt: collected system messages, preamble first on OAuth.
	var system []sdk.TextBlockParam
	if t.oauth {
		system = append(system, sdk.TextBlockParam{Text: claudeCodePreamble})
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		}
	}
	params.System = system

	// Tool names may be normalized on the OAuth path; remember the
	// originals so response tool calls map back.
	nameBack := map[string]string{}
	var tools []sdk.ToolUnionParam
	for _, d := range req.Tools {
		name := d.Name
		if t.oauth {
			name = normalizeToolName(name)
		}
		nameBack[name] = d.Name
		tools = append(tools, sdk.ToolUnionParam{OfTool: &sdk.ToolParam{
			Name:        name,
			Description: sdk.String(d.Description),
			InputSchema: inputSchema(d.Parameters),
		}})
	}
	params.Tools = tools

	params.Messages = encodeMessages(req.Messages)

	var opts []option.RequestOption
	if supportsAdaptiveThinking(model) {
		opts = append(opts, option.WithJSONSet("thinking", map[string]any{
			"type":   "adaptive",
			"effort": thinkingEffort(model),
		}))
	}

	msg, err := t.client.Messages.New(ctx, params, opts...)
	if err != nil {
		return spacebot.CompletionResponse{}, wrapErr(err)
	}

	return decodeResponse(msg, nameBack)
}

// inputSchema converts a JSON Schema blob into the SDK's schema param.
func inputSchema(raw json.RawMessage) sdk.ToolInputSchemaParam {
	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	_ = json.Unmarshal(raw, &schema)
	return sdk.ToolInputSchemaParam{
		Properties: schema.Properties,
		Required:   schema.Required,
	}
}

// encodeMessages maps the neutral history into Anthropic message params.
// Tool results become tool_result blocks in user messages; base64 images
// become image blocks.
func encodeMessages(messages []spacebot.ChatMessage) []sdk.MessageParam {
	var out []sdk.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			// Handled as the system param.
		case "user":
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, a := range m.Attachments {
				if a.Base64 != "" {
					blocks = append(blocks, sdk.NewImageBlockBase64(a.MimeType, a.Base64))
				}
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewUserMessage(blocks...))
			}
		case "assistant":
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, json.RawMessage(tc.Args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		case "tool":
			out = append(out, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return out
}

// decodeResponse maps the SDK message back into the neutral shape,
// restoring original tool names.
func decodeResponse(msg *sdk.Message, nameBack map[string]string) (spacebot.CompletionResponse, error) {
	var resp spacebot.CompletionResponse
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Choice = append(resp.Choice, spacebot.AssistantContent{Text: block.Text})
		case "tool_use":
			name := block.Name
			if orig, ok := nameBack[name]; ok {
				name = orig
			}
			args, err := json.Marshal(block.Input)
			if err != nil {
				args = []byte("{}")
			}
			resp.Choice = append(resp.Choice, spacebot.AssistantContent{ToolCall: &spacebot.ToolCall{
				ID:   block.ID,
				Name: name,
				Args: args,
			}})
		}
	}
	if len(resp.Choice) == 0 {
		return resp, &spacebot.ErrLLM{Provider: "anthropic", Message: "empty choice in response", Retriable: true}
	}
	resp.Usage = spacebot.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CachedInput:  int(msg.Usage.CacheReadInputTokens),
	}
	return resp, nil
}

// wrapErr converts SDK errors into the typed transport error when a status
// code is available.
func wrapErr(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return &spacebot.ErrHTTP{Status: apiErr.StatusCode, Body: truncateBody(apiErr.Error())}
	}
	return err
}

func truncateBody(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max]
	}
	return s
}
