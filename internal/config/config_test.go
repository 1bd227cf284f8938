package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Defaults.Compaction.EmergencyThreshold != 0.95 {
		t.Errorf("expected 0.95, got %v", cfg.Defaults.Compaction.EmergencyThreshold)
	}
	if cfg.Defaults.MaxConcurrentBranches != 3 {
		t.Errorf("expected 3, got %d", cfg.Defaults.MaxConcurrentBranches)
	}
	if cfg.Defaults.Routing.RateLimitCooldownSecs != 60 {
		t.Errorf("expected 60, got %d", cfg.Defaults.Routing.RateLimitCooldownSecs)
	}
}

func TestParsePreservesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[[agents]]
id = "main"

[defaults]
max_concurrent_branches = 5
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Defaults.MaxConcurrentBranches != 5 {
		t.Errorf("expected override 5, got %d", cfg.Defaults.MaxConcurrentBranches)
	}
	// Untouched defaults survive.
	if cfg.Defaults.BranchMaxTurns != 10 {
		t.Errorf("expected default 10, got %d", cfg.Defaults.BranchMaxTurns)
	}
}

func TestEnvReferenceResolution(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-test")
	cfg, err := Parse([]byte(`
[llm]
anthropic_key = "env:TEST_ANTHROPIC_KEY"

[[agents]]
id = "main"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LLM.AnthropicKey != "sk-test" {
		t.Errorf("expected resolved key, got %q", cfg.LLM.AnthropicKey)
	}
}

func TestEnvReferenceMissingIsError(t *testing.T) {
	_, err := Parse([]byte(`
[llm]
anthropic_key = "env:DEFINITELY_NOT_SET_12345"

[[agents]]
id = "main"
`))
	if err == nil {
		t.Fatal("expected error for unresolvable env reference")
	}
}

func TestValidateRejectsBadAgentID(t *testing.T) {
	_, err := Parse([]byte(`
[[agents]]
id = "Bad Agent"
`))
	if err == nil {
		t.Fatal("expected error for invalid agent id")
	}
}

func TestValidateRejectsUnknownAPIType(t *testing.T) {
	_, err := Parse([]byte(`
[[agents]]
id = "main"

[[llm.custom]]
name = "weird"
api_type = "soap"
base_url = "https://example.com"
`))
	if err == nil {
		t.Fatal("expected error for unknown api_type")
	}
}

func TestValidateRejectsBadDeliveryTarget(t *testing.T) {
	_, err := Parse([]byte(`
[[agents]]
id = "main"

[[defaults.cron_jobs]]
id = "job"
prompt = "do things"
delivery_target = "no-colon-here"
`))
	if err == nil {
		t.Fatal("expected error for malformed delivery target")
	}
}

func TestResolveAgentOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
[defaults]
max_concurrent_branches = 3
branch_max_turns = 10

[defaults.routing]
channel = "anthropic/claude-sonnet-4-5"

[[agents]]
id = "main"

[[agents]]
id = "secondary"
max_concurrent_branches = 8

[agents.routing]
channel = "openai/gpt-5"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	main := cfg.ResolveAgent("main")
	if main.MaxConcurrentBranches != 3 {
		t.Errorf("main should inherit 3, got %d", main.MaxConcurrentBranches)
	}

	secondary := cfg.ResolveAgent("secondary")
	if secondary.MaxConcurrentBranches != 8 {
		t.Errorf("secondary should override to 8, got %d", secondary.MaxConcurrentBranches)
	}
	if secondary.Routing.Channel != "openai/gpt-5" {
		t.Errorf("secondary routing override lost: %q", secondary.Routing.Channel)
	}
	if secondary.BranchMaxTurns != 10 {
		t.Errorf("secondary should inherit branch_max_turns 10, got %d", secondary.BranchMaxTurns)
	}
}

func TestLoadMissingFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestInstanceLayout(t *testing.T) {
	l := InstanceLayout{Root: "/srv/sb"}
	if got := l.Workspace("main"); got != "/srv/sb/agents/main/workspace" {
		t.Errorf("workspace path: %s", got)
	}
	if got := l.PidFile(); got != "/srv/sb/spacebot.pid" {
		t.Errorf("pid path: %s", got)
	}
}

func TestLoadSkillsReadsDescriptions(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "cooking.md"), []byte("# Cooking helper\nbody"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a skill"), 0o644)

	skills := LoadSkills(dir)
	if len(skills) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(skills))
	}
	if skills[0].Name != "cooking" || skills[0].Description != "Cooking helper" {
		t.Errorf("unexpected skill: %+v", skills[0])
	}
}
