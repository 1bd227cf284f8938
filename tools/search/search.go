// Package search implements the worker web_search tool: Brave search with
// readable-content extraction of the top results.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	spacebot "github.com/nevindra/spacebot"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Tool performs web searches via the Brave API.
type Tool struct {
	apiKey string
	client *http.Client
	// extractTop bounds how many result pages get fetched for content.
	extractTop int
}

// New creates a web_search tool. apiKey is the Brave search key.
func New(apiKey string) *Tool {
	return &Tool{
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 15 * time.Second},
		extractTop: 2,
	}
}

func (t *Tool) Definitions() []spacebot.ToolDefinition {
	return []spacebot.ToolDefinition{{
		Name:        "web_search",
		Description: "Search the web for current information. Use for recent events, news, prices, or anything requiring up-to-date data.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (spacebot.ToolResult, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &p); err != nil || p.Query == "" {
		return spacebot.ToolResult{Error: "invalid args: query is required"}, nil
	}
	if t.apiKey == "" {
		return spacebot.ToolResult{Error: "web search is not configured (no API key)"}, nil
	}

	results, err := t.braveSearch(ctx, p.Query, 6)
	if err != nil {
		return spacebot.ToolResult{Error: err.Error()}, nil
	}
	if len(results) == 0 {
		return spacebot.ToolResult{Content: fmt.Sprintf("No results for %q.", p.Query)}, nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "## %s\n%s\n%s\n", r.Title, r.URL, r.Snippet)
		if i < t.extractTop {
			if content := t.extract(ctx, r.URL); content != "" {
				fmt.Fprintf(&b, "\n%s\n", content)
			}
		}
		b.WriteString("\n")
	}
	return spacebot.ToolResult{Content: spacebot.TruncateOutput(b.String(), spacebot.MaxToolOutputBytes)}, nil
}

type braveResult struct {
	Title   string
	URL     string
	Snippet string
}

func (t *Tool) braveSearch(ctx context.Context, query string, count int) ([]braveResult, error) {
	u := fmt.Sprintf("%s?q=%s&count=%d", braveEndpoint, url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return nil, &spacebot.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("web search: decode response: %w", err)
	}

	var out []braveResult
	for _, r := range parsed.Web.Results {
		out = append(out, braveResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

// extract fetches a result page and returns its readable text, capped per
// page so one article cannot crowd out the rest.
func (t *Tool) extract(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(io.LimitReader(resp.Body, 2<<20), parsedURL)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(article.TextContent)
	const perPageCap = 4000
	if len(text) > perPageCap {
		text = text[:perPageCap] + "…"
	}
	return text
}
