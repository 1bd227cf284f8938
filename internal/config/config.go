// Package config implements the spacebot configuration plane: the TOML file
// surface, env-reference resolution, per-agent tunable resolution, the
// atomically-swappable RuntimeConfig, binding-based message routing, and the
// debounced hot-reload watcher.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	spacebot "github.com/nevindra/spacebot"
)

// Config is the parsed configuration file.
type Config struct {
	LLM       LLMConfig                  `toml:"llm"`
	Defaults  Defaults                   `toml:"defaults"`
	Agents    []AgentConfig              `toml:"agents"`
	Bindings  []Binding                  `toml:"bindings"`
	Links     []Link                     `toml:"links"`
	Groups    []Group                    `toml:"groups"`
	Humans    []Human                    `toml:"humans"`
	Messaging map[string]MessagingConfig `toml:"messaging"`
	API       APIConfig                  `toml:"api"`
	Metrics   MetricsConfig              `toml:"metrics"`
	Telemetry TelemetryConfig            `toml:"telemetry"`
}

// LLMConfig holds provider credentials. Known providers get dedicated keys;
// anything else goes through [[llm.custom]].
type LLMConfig struct {
	AnthropicKey     string `toml:"anthropic_key"`
	AnthropicOAuth   bool   `toml:"anthropic_oauth"`
	OpenAIKey        string `toml:"openai_key"`
	GeminiKey        string `toml:"gemini_key"`
	OpenRouterKey    string `toml:"openrouter_key"`
	OllamaBaseURL    string `toml:"ollama_base_url"`
	OllamaKey        string `toml:"ollama_key"`
	DeepseekKey      string `toml:"deepseek_key"`
	GroqKey          string `toml:"groq_key"`
	MistralKey       string `toml:"mistral_key"`
	MoonshotKey      string `toml:"moonshot_key"`
	FireworksKey     string `toml:"fireworks_key"`
	TogetherKey      string `toml:"together_key"`
	XAIKey           string `toml:"xai_key"`
	NvidiaKey        string `toml:"nvidia_key"`
	MinimaxKey       string `toml:"minimax_key"`
	ZhipuKey         string `toml:"zhipu_key"`
	ZaiCodingPlanKey string `toml:"zai_coding_plan_key"`
	OpencodeZenKey   string `toml:"opencode_zen_key"`

	Custom []CustomProvider `toml:"custom"`
}

// CustomProvider declares an additional provider endpoint.
type CustomProvider struct {
	Name    string `toml:"name"`
	APIType string `toml:"api_type"` // anthropic | openai-completions | openai-responses | gemini
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// RoutingConfig selects models per process tier with fallback chains.
type RoutingConfig struct {
	Channel   string `toml:"channel"`
	Branch    string `toml:"branch"`
	Worker    string `toml:"worker"`
	Compactor string `toml:"compactor"`
	Cortex    string `toml:"cortex"`
	// Fallbacks maps a full model name to its ordered fallback chain.
	Fallbacks             map[string][]string `toml:"fallbacks"`
	RateLimitCooldownSecs int                 `toml:"rate_limit_cooldown_secs"`
}

// CompactionConfig holds the threshold ladder and the context budget used
// for usage-ratio computation.
type CompactionConfig struct {
	// ContextWindowChars is the character budget the usage ratio is
	// computed against. Character length is the consistent proxy for
	// context size everywhere in this codebase.
	ContextWindowChars  int     `toml:"context_window_chars"`
	BackgroundThreshold float64 `toml:"background_threshold"`
	AggressiveThreshold float64 `toml:"aggressive_threshold"`
	EmergencyThreshold  float64 `toml:"emergency_threshold"`
}

// IngestionConfig controls the memory ingestion loop.
type IngestionConfig struct {
	Enabled          bool `toml:"enabled"`
	PollIntervalSecs int  `toml:"poll_interval_secs"`
	ChunkSize        int  `toml:"chunk_size"`
}

// WarmupConfig controls the readiness contract for background dispatch.
type WarmupConfig struct {
	EagerEmbeddingLoad  bool `toml:"eager_embedding_load"`
	BulletinRefreshSecs int  `toml:"bulletin_refresh_secs"`
}

// ACPAgentConfig describes an external coding agent profile.
type ACPAgentConfig struct {
	Name    string            `toml:"name"`
	Command string            `toml:"command"` // literal or "env:VAR_NAME"
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	// TimeoutSecs bounds one session's wall clock.
	TimeoutSecs int `toml:"timeout_secs"`
}

// MCPServerConfig describes one MCP server connection.
type MCPServerConfig struct {
	Name      string            `toml:"name"`
	Transport string            `toml:"transport"` // "stdio" | "http"
	Command   string            `toml:"command"`
	Args      []string          `toml:"args"`
	URL       string            `toml:"url"`
	Headers   map[string]string `toml:"headers"`
}

// Equal reports whether two server configs require no reconnect.
func (c MCPServerConfig) Equal(o MCPServerConfig) bool {
	if c.Name != o.Name || c.Transport != o.Transport || c.Command != o.Command || c.URL != o.URL {
		return false
	}
	if len(c.Args) != len(o.Args) || len(c.Headers) != len(o.Headers) {
		return false
	}
	for i := range c.Args {
		if c.Args[i] != o.Args[i] {
			return false
		}
	}
	for k, v := range c.Headers {
		if o.Headers[k] != v {
			return false
		}
	}
	return true
}

// CronJobConfig is a cron job declared in the config file (jobs may also be
// created at runtime and live only in the store).
type CronJobConfig struct {
	ID             string `toml:"id"`
	Prompt         string `toml:"prompt"`
	IntervalSecs   int    `toml:"interval_secs"`
	DeliveryTarget string `toml:"delivery_target"`
	ActiveHours    []int  `toml:"active_hours"` // [start, end), wall-clock hours
	Enabled        bool   `toml:"enabled"`
	RunOnce        bool   `toml:"run_once"`
	TimeoutSecs    int    `toml:"timeout_secs"`
}

// Defaults carries every per-agent tunable; [[agents]] entries override
// individual fields.
type Defaults struct {
	Routing    RoutingConfig    `toml:"routing"`
	Compaction CompactionConfig `toml:"compaction"`
	Ingestion  IngestionConfig  `toml:"ingestion"`
	Warmup     WarmupConfig     `toml:"warmup"`

	MaxConcurrentBranches int `toml:"max_concurrent_branches"`
	MaxConcurrentWorkers  int `toml:"max_concurrent_workers"`
	MaxConcurrentChannels int `toml:"max_concurrent_channels"`
	BranchMaxTurns        int `toml:"branch_max_turns"`
	BranchTimeoutSecs     int `toml:"branch_timeout_secs"`
	WorkerTimeoutSecs     int `toml:"worker_timeout_secs"`

	CronTimezone string `toml:"cron_timezone"`

	EmbeddingModel string `toml:"embedding_model"`
	BraveAPIKey    string `toml:"brave_api_key"`

	IdentityPath string `toml:"identity_path"`
	PromptsPath  string `toml:"prompts_path"`
	SkillsPath   string `toml:"skills_path"`

	ACPAgents  []ACPAgentConfig  `toml:"acp_agents"`
	MCPServers []MCPServerConfig `toml:"mcp_servers"`
	CronJobs   []CronJobConfig   `toml:"cron_jobs"`
}

// AgentConfig is one [[agents]] entry: an id plus overrides of Defaults.
type AgentConfig struct {
	ID       string `toml:"id"`
	Defaults        // embedded overrides; zero values fall back
}

// Link, Group, and Human are topology metadata consumed by prompt assembly.
type Link struct {
	From string `toml:"from"`
	To   string `toml:"to"`
	Kind string `toml:"kind"`
}

type Group struct {
	Name    string   `toml:"name"`
	Members []string `toml:"members"`
}

type Human struct {
	ID       string   `toml:"id"`
	Name     string   `toml:"name"`
	Handles  []string `toml:"handles"`
	Timezone string   `toml:"timezone"`
}

// MessagingConfig is one [messaging.<platform>] section. Adapter-specific
// keys stay in Extra; the runtime only interprets Enabled and the secrets.
type MessagingConfig struct {
	Enabled bool              `toml:"enabled"`
	Token   string            `toml:"token"`
	Extra   map[string]string `toml:"extra"`
}

type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() Config {
	return Config{
		Defaults: Defaults{
			Routing: RoutingConfig{
				Channel:               "anthropic/claude-sonnet-4-5",
				Branch:                "anthropic/claude-haiku-4-5",
				Worker:                "anthropic/claude-sonnet-4-5",
				Compactor:             "anthropic/claude-haiku-4-5",
				Cortex:                "anthropic/claude-haiku-4-5",
				RateLimitCooldownSecs: 60,
			},
			Compaction: CompactionConfig{
				ContextWindowChars:  400_000,
				BackgroundThreshold: 0.80,
				AggressiveThreshold: 0.85,
				EmergencyThreshold:  0.95,
			},
			Ingestion: IngestionConfig{
				Enabled:          true,
				PollIntervalSecs: 60,
				ChunkSize:        4000,
			},
			Warmup: WarmupConfig{
				BulletinRefreshSecs: 900,
			},
			MaxConcurrentBranches: 3,
			MaxConcurrentWorkers:  5,
			MaxConcurrentChannels: 64,
			BranchMaxTurns:        10,
			BranchTimeoutSecs:     300,
			WorkerTimeoutSecs:     600,
		},
	}
}

// Load reads and validates a config file: defaults → TOML → env references.
// Unresolvable env references and validation failures are fatal here; the
// reload path catches the error and keeps the previous config.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw TOML into a validated Config.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := resolveEnvRefs(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, a := range c.Agents {
		if !spacebot.ValidAgentID(a.ID) {
			return fmt.Errorf("config: invalid agent id %q", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	for _, b := range c.Bindings {
		if b.Channel == "" {
			return fmt.Errorf("config: binding for agent %q has no channel", b.AgentID)
		}
		if b.AgentID != "" && !seen[b.AgentID] {
			return fmt.Errorf("config: binding references unknown agent %q", b.AgentID)
		}
	}
	for _, p := range c.LLM.Custom {
		switch p.APIType {
		case "anthropic", "openai-completions", "openai-responses", "gemini":
		default:
			return fmt.Errorf("config: custom provider %q has unknown api_type %q", p.Name, p.APIType)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("config: custom provider %q has no base_url", p.Name)
		}
	}
	for _, j := range c.Defaults.CronJobs {
		if j.ID == "" || j.Prompt == "" {
			return fmt.Errorf("config: cron job needs id and prompt")
		}
		if j.DeliveryTarget != "" && !validDeliveryTarget(j.DeliveryTarget) {
			return fmt.Errorf("config: cron job %q: invalid delivery target %q (want adapter:target)", j.ID, j.DeliveryTarget)
		}
	}
	return nil
}

func validDeliveryTarget(s string) bool {
	adapter, target, ok := strings.Cut(s, ":")
	return ok && adapter != "" && target != ""
}

// ResolveAgent merges Defaults with one agent's overrides. Zero-valued
// override fields inherit from defaults.
func (c *Config) ResolveAgent(id string) Defaults {
	out := c.Defaults
	for _, a := range c.Agents {
		if a.ID != id {
			continue
		}
		o := a.Defaults
		if o.Routing.Channel != "" {
			out.Routing.Channel = o.Routing.Channel
		}
		if o.Routing.Branch != "" {
			out.Routing.Branch = o.Routing.Branch
		}
		if o.Routing.Worker != "" {
			out.Routing.Worker = o.Routing.Worker
		}
		if o.Routing.Compactor != "" {
			out.Routing.Compactor = o.Routing.Compactor
		}
		if o.Routing.Cortex != "" {
			out.Routing.Cortex = o.Routing.Cortex
		}
		if len(o.Routing.Fallbacks) > 0 {
			out.Routing.Fallbacks = o.Routing.Fallbacks
		}
		if o.Routing.RateLimitCooldownSecs > 0 {
			out.Routing.RateLimitCooldownSecs = o.Routing.RateLimitCooldownSecs
		}
		if o.Compaction.ContextWindowChars > 0 {
			out.Compaction.ContextWindowChars = o.Compaction.ContextWindowChars
		}
		if o.Compaction.BackgroundThreshold > 0 {
			out.Compaction.BackgroundThreshold = o.Compaction.BackgroundThreshold
		}
		if o.Compaction.AggressiveThreshold > 0 {
			out.Compaction.AggressiveThreshold = o.Compaction.AggressiveThreshold
		}
		if o.Compaction.EmergencyThreshold > 0 {
			out.Compaction.EmergencyThreshold = o.Compaction.EmergencyThreshold
		}
		if o.Ingestion.PollIntervalSecs > 0 {
			out.Ingestion = o.Ingestion
		}
		if o.Warmup.BulletinRefreshSecs > 0 {
			out.Warmup = o.Warmup
		}
		if o.MaxConcurrentBranches > 0 {
			out.MaxConcurrentBranches = o.MaxConcurrentBranches
		}
		if o.MaxConcurrentWorkers > 0 {
			out.MaxConcurrentWorkers = o.MaxConcurrentWorkers
		}
		if o.MaxConcurrentChannels > 0 {
			out.MaxConcurrentChannels = o.MaxConcurrentChannels
		}
		if o.BranchMaxTurns > 0 {
			out.BranchMaxTurns = o.BranchMaxTurns
		}
		if o.BranchTimeoutSecs > 0 {
			out.BranchTimeoutSecs = o.BranchTimeoutSecs
		}
		if o.WorkerTimeoutSecs > 0 {
			out.WorkerTimeoutSecs = o.WorkerTimeoutSecs
		}
		if o.CronTimezone != "" {
			out.CronTimezone = o.CronTimezone
		}
		if o.EmbeddingModel != "" {
			out.EmbeddingModel = o.EmbeddingModel
		}
		if o.BraveAPIKey != "" {
			out.BraveAPIKey = o.BraveAPIKey
		}
		if o.IdentityPath != "" {
			out.IdentityPath = o.IdentityPath
		}
		if o.PromptsPath != "" {
			out.PromptsPath = o.PromptsPath
		}
		if o.SkillsPath != "" {
			out.SkillsPath = o.SkillsPath
		}
		if len(o.ACPAgents) > 0 {
			out.ACPAgents = o.ACPAgents
		}
		if len(o.MCPServers) > 0 {
			out.MCPServers = o.MCPServers
		}
		if len(o.CronJobs) > 0 {
			out.CronJobs = o.CronJobs
		}
		break
	}
	return out
}

// AgentIDs lists configured agent ids in declaration order. The first agent
// is the default routing fallback.
func (c *Config) AgentIDs() []string {
	ids := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		ids = append(ids, a.ID)
	}
	return ids
}

// DefaultAgentID returns the fallback agent for unmatched messages.
func (c *Config) DefaultAgentID() string {
	if len(c.Agents) == 0 {
		return ""
	}
	return c.Agents[0].ID
}

// --- env references ---

// resolveEnvRefs walks secret-bearing fields and resolves "env:VAR_NAME"
// values from the environment. A reference to an unset variable is an error.
func resolveEnvRefs(cfg *Config) error {
	fields := []*string{
		&cfg.LLM.AnthropicKey, &cfg.LLM.OpenAIKey, &cfg.LLM.GeminiKey,
		&cfg.LLM.OpenRouterKey, &cfg.LLM.OllamaKey, &cfg.LLM.DeepseekKey,
		&cfg.LLM.GroqKey, &cfg.LLM.MistralKey, &cfg.LLM.MoonshotKey,
		&cfg.LLM.FireworksKey, &cfg.LLM.TogetherKey, &cfg.LLM.XAIKey,
		&cfg.LLM.NvidiaKey, &cfg.LLM.MinimaxKey, &cfg.LLM.ZhipuKey,
		&cfg.LLM.ZaiCodingPlanKey, &cfg.LLM.OpencodeZenKey,
	}
	for i := range cfg.LLM.Custom {
		fields = append(fields, &cfg.LLM.Custom[i].APIKey)
	}
	fields = append(fields, &cfg.Defaults.BraveAPIKey)
	for i := range cfg.Agents {
		fields = append(fields, &cfg.Agents[i].BraveAPIKey)
	}
	for name, m := range cfg.Messaging {
		mc := m
		if err := resolveEnvValue(&mc.Token); err != nil {
			return fmt.Errorf("config: messaging.%s: %w", name, err)
		}
		cfg.Messaging[name] = mc
	}
	for _, f := range fields {
		if err := resolveEnvValue(f); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func resolveEnvValue(v *string) error {
	name, ok := strings.CutPrefix(*v, "env:")
	if !ok {
		return nil
	}
	val, ok := os.LookupEnv(name)
	if !ok {
		return fmt.Errorf("env reference %q: variable not set", name)
	}
	*v = val
	return nil
}

// InstanceLayout computes the standard filesystem layout under an instance
// directory.
type InstanceLayout struct {
	Root string
}

func (l InstanceLayout) AgentDir(id string) string     { return filepath.Join(l.Root, "agents", id) }
func (l InstanceLayout) Workspace(id string) string    { return filepath.Join(l.AgentDir(id), "workspace") }
func (l InstanceLayout) DataDir(id string) string      { return filepath.Join(l.AgentDir(id), "data") }
func (l InstanceLayout) ArchivesDir(id string) string  { return filepath.Join(l.AgentDir(id), "archives") }
func (l InstanceLayout) AgentLogsDir(id string) string { return filepath.Join(l.AgentDir(id), "logs") }
func (l InstanceLayout) IngestDir(id string) string    { return filepath.Join(l.AgentDir(id), "ingest") }
func (l InstanceLayout) LogsDir() string               { return filepath.Join(l.Root, "logs") }
func (l InstanceLayout) PidFile() string               { return filepath.Join(l.Root, "spacebot.pid") }
func (l InstanceLayout) SocketFile() string            { return filepath.Join(l.Root, "spacebot.sock") }
