package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	spacebot "github.com/nevindra/spacebot"
)

// ResponsesTransport speaks the OpenAI responses API. The wire format is
// built by hand: history items instead of messages, function_call /
// function_call_output items instead of tool messages.
type ResponsesTransport struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewResponses builds a responses-API transport.
func NewResponses(apiKey, baseURL string, client *http.Client) *ResponsesTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &ResponsesTransport{apiKey: apiKey, baseURL: baseURL, client: client}
}

// Complete implements the transport contract.
func (t *ResponsesTransport) Complete(ctx context.Context, model string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
	body := map[string]any{
		"model": model,
		"input": encodeInput(req.Messages),
	}
	if req.MaxTokens > 0 {
		body["max_output_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, d := range req.Tools {
			var params any
			_ = json.Unmarshal(d.Parameters, &params)
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        d.Name,
				"description": d.Description,
				"parameters":  params,
			})
		}
		body["tools"] = tools
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return spacebot.CompletionResponse{}, fmt.Errorf("openai responses: marshal body: %w", err)
	}

	url := strings.TrimSuffix(t.baseURL, "/") + "/responses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return spacebot.CompletionResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return spacebot.CompletionResponse{}, err
	}
	defer httpResp.Body.Close()

	raw, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		b := string(raw)
		if len(b) > 500 {
			b = b[:500]
		}
		return spacebot.CompletionResponse{}, &spacebot.ErrHTTP{Status: httpResp.StatusCode, Body: b}
	}

	return decodeResponsesBody(raw)
}

// encodeInput maps the neutral history into responses-API input items.
func encodeInput(messages []spacebot.ChatMessage) []map[string]any {
	var items []map[string]any
	for _, m := range messages {
		switch m.Role {
		case "system":
			items = append(items, map[string]any{
				"role":    "system",
				"content": []map[string]any{{"type": "input_text", "text": m.Content}},
			})
		case "user":
			content := []map[string]any{}
			if m.Content != "" {
				content = append(content, map[string]any{"type": "input_text", "text": m.Content})
			}
			for _, a := range m.Attachments {
				url := a.URL
				if url == "" && a.Base64 != "" {
					url = fmt.Sprintf("data:%s;base64,%s", a.MimeType, a.Base64)
				}
				if url != "" {
					content = append(content, map[string]any{"type": "input_image", "image_url": url})
				}
			}
			items = append(items, map[string]any{"role": "user", "content": content})
		case "assistant":
			if m.Content != "" {
				items = append(items, map[string]any{
					"role":    "assistant",
					"content": []map[string]any{{"type": "output_text", "text": m.Content}},
				})
			}
			for _, tc := range m.ToolCalls {
				items = append(items, map[string]any{
					"type":      "function_call",
					"call_id":   tc.ID,
					"name":      tc.Name,
					"arguments": string(tc.Args),
				})
			}
		case "tool":
			items = append(items, map[string]any{
				"type":    "function_call_output",
				"call_id": m.ToolCallID,
				"output":  m.Content,
			})
		}
	}
	return items
}

func decodeResponsesBody(raw []byte) (spacebot.CompletionResponse, error) {
	var parsed struct {
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			CallID    string `json:"call_id"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"output"`
		Usage struct {
			InputTokens        int `json:"input_tokens"`
			OutputTokens       int `json:"output_tokens"`
			TotalTokens        int `json:"total_tokens"`
			InputTokensDetails struct {
				CachedTokens int `json:"cached_tokens"`
			} `json:"input_tokens_details"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return spacebot.CompletionResponse{}, &spacebot.ErrLLM{
			Provider: "openai", Message: "malformed responses body: " + err.Error(),
		}
	}

	var out spacebot.CompletionResponse
	for _, item := range parsed.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.Choice = append(out.Choice, spacebot.AssistantContent{Text: c.Text})
				}
			}
		case "function_call":
			if item.CallID == "" {
				return spacebot.CompletionResponse{}, &spacebot.ErrLLM{
					Provider: "openai", Message: "function call missing call_id",
				}
			}
			out.Choice = append(out.Choice, spacebot.AssistantContent{ToolCall: &spacebot.ToolCall{
				ID:   item.CallID,
				Name: item.Name,
				Args: json.RawMessage(item.Arguments),
			}})
		}
	}
	if len(out.Choice) == 0 {
		return spacebot.CompletionResponse{}, &spacebot.ErrLLM{
			Provider: "openai", Message: "empty output in response", Retriable: true,
		}
	}
	out.Usage = spacebot.Usage{
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		TotalTokens:  parsed.Usage.TotalTokens,
		CachedInput:  parsed.Usage.InputTokensDetails.CachedTokens,
	}
	return out, nil
}
