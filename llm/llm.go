// Package llm routes completion requests across providers with per-model
// retry, fallback chains, and rate-limit cooldown.
//
// A [Model] names a (provider, model) pair and optionally carries a
// [RoutingConfig]; [Model.Completion] walks the primary and its fallbacks,
// retrying transient failures per model with exponential backoff and
// skipping models that are cooling down after a 429.
//
// Transports translate the provider-neutral request into each wire format:
// Anthropic messages (llm/anthropic), OpenAI chat completions and responses
// (llm/openai), and Gemini (llm/gemini). Every OpenAI-compatible provider
// rides the completions transport with its own base URL.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
	"github.com/nevindra/spacebot/llm/anthropic"
	"github.com/nevindra/spacebot/llm/gemini"
	"github.com/nevindra/spacebot/llm/openai"
)

// APIType selects the wire format for a provider.
type APIType string

const (
	APIAnthropic         APIType = "anthropic"
	APIOpenAICompletions APIType = "openai-completions"
	APIOpenAIResponses   APIType = "openai-responses"
	APIGemini            APIType = "gemini"
)

// ProviderConfig describes one provider endpoint.
type ProviderConfig struct {
	Name    string
	APIType APIType
	BaseURL string
	APIKey  string
	// OAuth marks Anthropic OAuth tokens, which take a distinct auth path.
	OAuth bool
}

// Transport executes one provider call. Implementations live in the
// llm/anthropic, llm/openai, and llm/gemini subpackages.
type Transport interface {
	Complete(ctx context.Context, model string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error)
}

// Manager holds provider configs, lazily constructed transports, and the
// per-model rate-limit cooldown state.
type Manager struct {
	providers map[string]ProviderConfig
	client    *http.Client
	logger    *slog.Logger

	mu          sync.Mutex
	transports  map[string]Transport
	rateLimited map[string]time.Time // full model name → when the 429 landed
}

// NewManager builds a Manager from the [llm] config section. Providers
// without credentials are simply absent; calling them fails with a missing
// credential error.
func NewManager(cfg config.LLMConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = spacebot.NopLogger()
	}
	m := &Manager{
		providers:   make(map[string]ProviderConfig),
		client:      &http.Client{Timeout: 120 * time.Second},
		logger:      logger,
		transports:  make(map[string]Transport),
		rateLimited: make(map[string]time.Time),
	}

	add := func(name string, apiType APIType, base, key string) {
		if key == "" && name != "ollama" {
			return
		}
		m.providers[name] = ProviderConfig{Name: name, APIType: apiType, BaseURL: base, APIKey: key}
	}

	add("anthropic", APIAnthropic, "https://api.anthropic.com", cfg.AnthropicKey)
	if p, ok := m.providers["anthropic"]; ok && cfg.AnthropicOAuth {
		p.OAuth = true
		m.providers["anthropic"] = p
	}
	add("openai", APIOpenAICompletions, "https://api.openai.com/v1", cfg.OpenAIKey)
	add("gemini", APIGemini, "https://generativelanguage.googleapis.com/v1beta", cfg.GeminiKey)
	add("openrouter", APIOpenAICompletions, "https://openrouter.ai/api/v1", cfg.OpenRouterKey)
	add("deepseek", APIOpenAICompletions, "https://api.deepseek.com/v1", cfg.DeepseekKey)
	add("groq", APIOpenAICompletions, "https://api.groq.com/openai/v1", cfg.GroqKey)
	add("mistral", APIOpenAICompletions, "https://api.mistral.ai/v1", cfg.MistralKey)
	add("moonshot", APIOpenAICompletions, "https://api.moonshot.ai/v1", cfg.MoonshotKey)
	add("fireworks", APIOpenAICompletions, "https://api.fireworks.ai/inference/v1", cfg.FireworksKey)
	add("together", APIOpenAICompletions, "https://api.together.xyz/v1", cfg.TogetherKey)
	add("xai", APIOpenAICompletions, "https://api.x.ai/v1", cfg.XAIKey)
	add("nvidia", APIOpenAICompletions, "https://integrate.api.nvidia.com/v1", cfg.NvidiaKey)
	add("minimax", APIOpenAICompletions, "https://api.minimax.io/v1", cfg.MinimaxKey)
	add("zhipu", APIOpenAICompletions, "https://api.z.ai/api/paas/v4", cfg.ZhipuKey)
	add("zai-coding-plan", APIOpenAICompletions, "https://api.z.ai/api/coding/paas/v4", cfg.ZaiCodingPlanKey)
	add("opencode-zen", APIOpenAICompletions, "https://opencode.ai/zen/v1", cfg.OpencodeZenKey)

	ollamaBase := cfg.OllamaBaseURL
	if ollamaBase == "" {
		ollamaBase = "http://localhost:11434/v1"
	}
	if cfg.OllamaBaseURL != "" || cfg.OllamaKey != "" {
		m.providers["ollama"] = ProviderConfig{
			Name: "ollama", APIType: APIOpenAICompletions, BaseURL: ollamaBase, APIKey: cfg.OllamaKey,
		}
	}

	for _, p := range cfg.Custom {
		m.providers[p.Name] = ProviderConfig{
			Name:    p.Name,
			APIType: APIType(p.APIType),
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
		}
	}

	return m
}

// Provider looks up a provider config.
func (m *Manager) Provider(name string) (ProviderConfig, error) {
	m.mu.Lock()
	p, ok := m.providers[name]
	m.mu.Unlock()
	if !ok {
		return ProviderConfig{}, fmt.Errorf("llm: unknown provider %q (no credential configured?)", name)
	}
	return p, nil
}

// RegisterProvider installs a provider with a pre-built transport,
// bypassing the built-in transport construction. Used for bespoke
// endpoints and for substituting fakes in tests.
func (m *Manager) RegisterProvider(cfg ProviderConfig, t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[cfg.Name] = cfg
	if t != nil {
		m.transports[cfg.Name] = t
	}
}

// transport returns (building if needed) the transport for a provider.
func (m *Manager) transport(p ProviderConfig) Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transports[p.Name]; ok {
		return t
	}
	var t Transport
	switch p.APIType {
	case APIAnthropic:
		t = anthropic.New(p.APIKey, p.BaseURL, p.OAuth)
	case APIOpenAIResponses:
		t = openai.NewResponses(p.APIKey, p.BaseURL, m.client)
	case APIGemini:
		t = gemini.New(p.APIKey, p.BaseURL, m.client)
	default:
		t = openai.New(p.APIKey, p.BaseURL)
	}
	m.transports[p.Name] = t
	return t
}

// IsRateLimited reports whether a model is still inside its cooldown.
func (m *Manager) IsRateLimited(fullModel string, cooldown time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.rateLimited[fullModel]
	if !ok {
		return false
	}
	if time.Since(at) >= cooldown {
		delete(m.rateLimited, fullModel)
		return false
	}
	return true
}

// RecordRateLimit notes that a model just returned a rate-limit error.
func (m *Manager) RecordRateLimit(fullModel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited[fullModel] = time.Now()
}
