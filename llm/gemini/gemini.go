// Package gemini translates provider-neutral completion requests into the
// Google Gemini generateContent API over plain HTTP.
package gemini

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

// Transport implements the llm.Transport contract for Gemini.
type Transport struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New builds a Gemini transport.
func New(apiKey, baseURL string, client *http.Client) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &Transport{apiKey: apiKey, baseURL: baseURL, client: client}
}

// Complete implements the transport contract.
func (t *Transport) Complete(ctx context.Context, model string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
	body := t.buildBody(req)

	payload, err := json.Marshal(body)
	if err != nil {
		return spacebot.CompletionResponse{}, fmt.Errorf("gemini: marshal body: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimSuffix(t.baseURL, "/"), model, t.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return spacebot.CompletionResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	return decodeBody(raw)
}

// buildBody assembles the generateContent payload. Gemini has no tool call
// ids, so synthetic ids of the form "name-index" are assigned on decode and
// tool results are matched back to function names by scanning the history.
func (t *Transport) buildBody(req spacebot.CompletionRequest) map[string]any {
	// Map tool-call id → function name for functionResponse parts.
	callNames := map[string]string{}
	for _, m := range req.Messages {
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Name
		}
	}

	var system []map[string]any
	var contents []map[string]any
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, map[string]any{"text": m.Content})
		case "user":
			parts := []map[string]any{}
			if m.Content != "" {
				parts = append(parts, map[string]any{"text": m.Content})
			}
			for _, a := range m.Attachments {
				if a.Base64 != "" {
					parts = append(parts, map[string]any{
						"inlineData": map[string]any{"mimeType": a.MimeType, "data": a.Base64},
					})
				}
			}
			if len(parts) > 0 {
				contents = append(contents, map[string]any{"role": "user", "parts": parts})
			}
		case "assistant":
			parts := []map[string]any{}
			if m.Content != "" {
				parts = append(parts, map[string]any{"text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args any
				_ = json.Unmarshal(tc.Args, &args)
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{"name": tc.Name, "args": args},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, map[string]any{"role": "model", "parts": parts})
			}
		case "tool":
			name := callNames[m.ToolCallID]
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []map[string]any{{
					"functionResponse": map[string]any{
						"name":     name,
						"response": map[string]any{"result": m.Content},
					},
				}},
			})
		}
	}

	body := map[string]any{"contents": contents}
	if len(system) > 0 {
		body["systemInstruction"] = map[string]any{"parts": system}
	}
	if req.MaxTokens > 0 {
		body["generationConfig"] = map[string]any{"maxOutputTokens": req.MaxTokens}
	}
	if len(req.Tools) > 0 {
		var decls []map[string]any
		for _, d := range req.Tools {
			var params any
			_ = json.Unmarshal(d.Parameters, &params)
			decls = append(decls, map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  params,
			})
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}
	return body
}

func decodeBody(raw []byte) (spacebot.CompletionResponse, error) {
	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text         string `json:"text"`
					FunctionCall *struct {
						Name string          `json:"name"`
						Args json.RawMessage `json:"args"`
					} `json:"functionCall"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount        int `json:"promptTokenCount"`
			CandidatesTokenCount    int `json:"candidatesTokenCount"`
			TotalTokenCount         int `json:"totalTokenCount"`
			CachedContentTokenCount int `json:"cachedContentTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return spacebot.CompletionResponse{}, &spacebot.ErrLLM{
			Provider: "gemini", Message: "malformed response: " + err.Error(),
		}
	}
	if len(parsed.Candidates) == 0 {
		return spacebot.CompletionResponse{}, &spacebot.ErrLLM{
			Provider: "gemini", Message: "empty candidates in response", Retriable: true,
		}
	}

	var out spacebot.CompletionResponse
	for i, part := range parsed.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Choice = append(out.Choice, spacebot.AssistantContent{Text: part.Text})
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.Choice = append(out.Choice, spacebot.AssistantContent{ToolCall: &spacebot.ToolCall{
				ID:   fmt.Sprintf("%s-%d", part.FunctionCall.Name, i),
				Name: part.FunctionCall.Name,
				Args: args,
			}})
		}
	}
	if len(out.Choice) == 0 {
		return spacebot.CompletionResponse{}, &spacebot.ErrLLM{
			Provider: "gemini", Message: "empty choice in response", Retriable: true,
		}
	}
	out.Usage = spacebot.Usage{
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		TotalTokens:  parsed.UsageMetadata.TotalTokenCount,
		CachedInput:  parsed.UsageMetadata.CachedContentTokenCount,
	}
	return out, nil
}
