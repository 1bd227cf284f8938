package config

import (
	"sync/atomic"
	"time"
)

// WarmupState describes where the agent is in its warmup cycle.
type WarmupState int

const (
	WarmupCold WarmupState = iota
	WarmupWarming
	WarmupWarm
)

func (s WarmupState) String() string {
	switch s {
	case WarmupWarming:
		return "warming"
	case WarmupWarm:
		return "warm"
	default:
		return "cold"
	}
}

// WorkReadiness is the readiness contract for background/scheduled work:
// warm state, embedding model ready, memory bulletin fresh.
type WorkReadiness struct {
	Ready           bool
	Reason          string // "", "not_warm", "embedding_not_ready", "bulletin_stale"
	State           WarmupState
	EmbeddingReady  bool
	BulletinAge     time.Duration
	StaleAfter      time.Duration
	BulletinPresent bool
}

// RuntimeConfig is the per-agent bundle of atomically-swappable tunables.
// Every field is read via a pointer load and written via a pointer swap;
// nothing is mutated in place, so readers never block and never see torn
// state.
type RuntimeConfig struct {
	routing    atomic.Pointer[RoutingConfig]
	compaction atomic.Pointer[CompactionConfig]
	ingestion  atomic.Pointer[IngestionConfig]
	warmup     atomic.Pointer[WarmupConfig]
	limits     atomic.Pointer[Limits]
	timezone   atomic.Pointer[string]
	identity   atomic.Pointer[string]
	prompts    atomic.Pointer[map[string]string]
	skills     atomic.Pointer[[]SkillEntry]
	mcpServers atomic.Pointer[[]MCPServerConfig]
	acpAgents  atomic.Pointer[[]ACPAgentConfig]
	bulletin   atomic.Pointer[Bulletin]

	warmState      atomic.Int32
	embeddingReady atomic.Bool
}

// Limits groups the concurrency and budget tunables read on hot paths.
type Limits struct {
	MaxConcurrentBranches int
	MaxConcurrentWorkers  int
	MaxConcurrentChannels int
	BranchMaxTurns        int
	BranchTimeout         time.Duration
	WorkerTimeout         time.Duration
}

// SkillEntry is one loaded skill file (name + short description used in the
// channel system prompt listing; body loaded on demand by the read tool).
type SkillEntry struct {
	Name        string
	Description string
	Path        string
}

// Bulletin is the cortex-maintained memory bulletin injected into Channel
// system prompts.
type Bulletin struct {
	Text      string
	UpdatedAt time.Time
}

// NewRuntimeConfig builds a RuntimeConfig from resolved agent defaults.
func NewRuntimeConfig(d Defaults) *RuntimeConfig {
	rc := &RuntimeConfig{}
	rc.Apply(d)
	rc.bulletin.Store(&Bulletin{})
	empty := ""
	rc.identity.Store(&empty)
	prompts := map[string]string{}
	rc.prompts.Store(&prompts)
	skills := []SkillEntry{}
	rc.skills.Store(&skills)
	return rc
}

// Apply swaps in every tunable from d. Used at construction and on reload.
func (rc *RuntimeConfig) Apply(d Defaults) {
	routing := d.Routing
	rc.routing.Store(&routing)
	compaction := d.Compaction
	rc.compaction.Store(&compaction)
	ingestion := d.Ingestion
	rc.ingestion.Store(&ingestion)
	warmup := d.Warmup
	rc.warmup.Store(&warmup)
	tz := d.CronTimezone
	rc.timezone.Store(&tz)
	mcp := append([]MCPServerConfig(nil), d.MCPServers...)
	rc.mcpServers.Store(&mcp)
	acp := append([]ACPAgentConfig(nil), d.ACPAgents...)
	rc.acpAgents.Store(&acp)
	rc.limits.Store(&Limits{
		MaxConcurrentBranches: d.MaxConcurrentBranches,
		MaxConcurrentWorkers:  d.MaxConcurrentWorkers,
		MaxConcurrentChannels: d.MaxConcurrentChannels,
		BranchMaxTurns:        d.BranchMaxTurns,
		BranchTimeout:         time.Duration(d.BranchTimeoutSecs) * time.Second,
		WorkerTimeout:         time.Duration(d.WorkerTimeoutSecs) * time.Second,
	})
}

func (rc *RuntimeConfig) Routing() RoutingConfig       { return *rc.routing.Load() }
func (rc *RuntimeConfig) Compaction() CompactionConfig { return *rc.compaction.Load() }
func (rc *RuntimeConfig) Ingestion() IngestionConfig   { return *rc.ingestion.Load() }
func (rc *RuntimeConfig) Warmup() WarmupConfig         { return *rc.warmup.Load() }
func (rc *RuntimeConfig) Limits() Limits               { return *rc.limits.Load() }
func (rc *RuntimeConfig) CronTimezone() string         { return *rc.timezone.Load() }
func (rc *RuntimeConfig) Identity() string             { return *rc.identity.Load() }
func (rc *RuntimeConfig) Prompts() map[string]string   { return *rc.prompts.Load() }
func (rc *RuntimeConfig) Skills() []SkillEntry         { return *rc.skills.Load() }
func (rc *RuntimeConfig) MCPServers() []MCPServerConfig {
	return *rc.mcpServers.Load()
}
func (rc *RuntimeConfig) ACPAgents() []ACPAgentConfig { return *rc.acpAgents.Load() }
func (rc *RuntimeConfig) MemoryBulletin() Bulletin    { return *rc.bulletin.Load() }

func (rc *RuntimeConfig) SetIdentity(text string)         { rc.identity.Store(&text) }
func (rc *RuntimeConfig) SetPrompts(p map[string]string)  { rc.prompts.Store(&p) }
func (rc *RuntimeConfig) SetSkills(s []SkillEntry)        { rc.skills.Store(&s) }
func (rc *RuntimeConfig) SetMemoryBulletin(text string) {
	rc.bulletin.Store(&Bulletin{Text: text, UpdatedAt: time.Now()})
}

// ACPAgent finds an ACP profile by name; empty name returns the first.
func (rc *RuntimeConfig) ACPAgent(name string) (ACPAgentConfig, bool) {
	agents := rc.ACPAgents()
	if len(agents) == 0 {
		return ACPAgentConfig{}, false
	}
	if name == "" {
		return agents[0], true
	}
	for _, a := range agents {
		if a.Name == name {
			return a, true
		}
	}
	return ACPAgentConfig{}, false
}

func (rc *RuntimeConfig) SetWarmState(s WarmupState) { rc.warmState.Store(int32(s)) }
func (rc *RuntimeConfig) WarmState() WarmupState     { return WarmupState(rc.warmState.Load()) }
func (rc *RuntimeConfig) SetEmbeddingReady(v bool)   { rc.embeddingReady.Store(v) }

// Readiness evaluates the work-readiness contract. The bulletin is fresh
// when younger than 2× its refresh interval, floored at 60 seconds.
func (rc *RuntimeConfig) Readiness() WorkReadiness {
	warmup := rc.Warmup()
	staleAfter := 2 * time.Duration(warmup.BulletinRefreshSecs) * time.Second
	if staleAfter < time.Minute {
		staleAfter = time.Minute
	}

	r := WorkReadiness{
		State:          rc.WarmState(),
		EmbeddingReady: rc.embeddingReady.Load(),
		StaleAfter:     staleAfter,
	}

	b := rc.MemoryBulletin()
	r.BulletinPresent = !b.UpdatedAt.IsZero()
	if r.BulletinPresent {
		r.BulletinAge = time.Since(b.UpdatedAt)
	}

	switch {
	case r.State != WarmupWarm:
		r.Reason = "not_warm"
	case warmup.EagerEmbeddingLoad && !r.EmbeddingReady:
		r.Reason = "embedding_not_ready"
	case !r.BulletinPresent || r.BulletinAge > staleAfter:
		r.Reason = "bulletin_stale"
	default:
		r.Ready = true
	}
	return r
}
