// Package openai translates provider-neutral completion requests into the
// OpenAI chat-completions API (via the official SDK) and the responses API
// (hand-built wire format). Every OpenAI-compatible provider rides the
// completions transport with its own base URL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	spacebot "github.com/nevindra/spacebot"
)

// Transport implements the llm.Transport contract for chat completions.
type Transport struct {
	client sdk.Client
	name   string
}

// New builds a chat-completions transport against the given base URL.
func New(apiKey, baseURL string) *Transport {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Transport{client: sdk.NewClient(opts...), name: "openai"}
}

// Complete implements the transport contract.
func (t *Transport) Complete(ctx context.Context, model string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: encodeMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	for _, d := range req.Tools {
		var schema map[string]any
		_ = json.Unmarshal(d.Parameters, &schema)
		params.Tools = append(params.Tools, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: sdk.String(d.Description),
				Parameters:  shared.FunctionParameters(schema),
			},
		})
	}

	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return spacebot.CompletionResponse{}, wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return spacebot.CompletionResponse{}, &spacebot.ErrLLM{
			Provider: t.name, Message: "empty choices in response", Retriable: true,
		}
	}

	var out spacebot.CompletionResponse
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		out.Choice = append(out.Choice, spacebot.AssistantContent{Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		if tc.ID == "" {
			return spacebot.CompletionResponse{}, &spacebot.ErrLLM{
				Provider: t.name, Message: "tool call missing id",
			}
		}
		out.Choice = append(out.Choice, spacebot.AssistantContent{ToolCall: &spacebot.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		}})
	}
	if len(out.Choice) == 0 {
		return spacebot.CompletionResponse{}, &spacebot.ErrLLM{
			Provider: t.name, Message: "empty choice in response", Retriable: true,
		}
	}
	out.Usage = spacebot.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
		CachedInput:  int(resp.Usage.PromptTokensDetails.CachedTokens),
	}
	return out, nil
}

// encodeMessages maps the neutral history into chat-completions params.
// Tool results become role:"tool" messages; base64 images become data-URL
// image parts.
func encodeMessages(messages []spacebot.ChatMessage) []sdk.ChatCompletionMessageParamUnion {
	var out []sdk.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "user":
			if len(m.Attachments) == 0 {
				out = append(out, sdk.UserMessage(m.Content))
				continue
			}
			parts := []sdk.ChatCompletionContentPartUnionParam{}
			if m.Content != "" {
				parts = append(parts, sdk.TextContentPart(m.Content))
			}
			for _, a := range m.Attachments {
				url := a.URL
				if url == "" && a.Base64 != "" {
					url = fmt.Sprintf("data:%s;base64,%s", a.MimeType, a.Base64)
				}
				if url != "" {
					parts = append(parts, sdk.ImageContentPart(sdk.ChatCompletionContentPartImageImageURLParam{URL: url}))
				}
			}
			out = append(out, sdk.UserMessage(parts))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			asst := sdk.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = sdk.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			out = append(out, sdk.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

// wrapErr converts SDK errors into the typed transport error when a status
// code is available.
func wrapErr(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		body := apiErr.Error()
		if len(body) > 500 {
			body = body[:500]
		}
		return &spacebot.ErrHTTP{Status: apiErr.StatusCode, Body: body}
	}
	return err
}
