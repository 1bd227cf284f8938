package config

import (
	"testing"

	spacebot "github.com/nevindra/spacebot"
)

func discordMsg(meta map[string]any) *spacebot.InboundMessage {
	return &spacebot.InboundMessage{
		Source:   "discord",
		SenderID: "user-1",
		Metadata: meta,
	}
}

func TestBindingMatchesGuildScope(t *testing.T) {
	b := Binding{AgentID: "main", Channel: "discord", GuildID: "42"}

	if !b.Matches(discordMsg(map[string]any{"discord_guild_id": "42"})) {
		t.Error("expected guild 42 to match")
	}
	if b.Matches(discordMsg(map[string]any{"discord_guild_id": "7"})) {
		t.Error("expected guild 7 not to match")
	}
}

func TestBindingDMRequiresAllowList(t *testing.T) {
	// No guild id → a DM.
	dm := discordMsg(map[string]any{})

	closed := Binding{AgentID: "main", Channel: "discord"}
	if closed.Matches(dm) {
		t.Error("DM should not match a binding with an empty allow-list")
	}

	open := Binding{AgentID: "main", Channel: "discord", DMAllowedUsers: []string{"user-1"}}
	if !open.Matches(dm) {
		t.Error("DM from an allowed user should match")
	}

	other := Binding{AgentID: "main", Channel: "discord", DMAllowedUsers: []string{"someone-else"}}
	if other.Matches(dm) {
		t.Error("DM from a non-listed user should not match")
	}
}

func TestBindingChannelIDsIncludeParent(t *testing.T) {
	b := Binding{AgentID: "main", Channel: "discord", ChannelIDs: []string{"100"}}

	direct := discordMsg(map[string]any{
		"discord_guild_id":   "42",
		"discord_channel_id": "100",
	})
	if !b.Matches(direct) {
		t.Error("direct channel id should match")
	}

	thread := discordMsg(map[string]any{
		"discord_guild_id":          "42",
		"discord_channel_id":        "999",
		"discord_parent_channel_id": "100",
	})
	if !b.Matches(thread) {
		t.Error("parent channel id should match for threads")
	}

	elsewhere := discordMsg(map[string]any{
		"discord_guild_id":   "42",
		"discord_channel_id": "999",
	})
	if b.Matches(elsewhere) {
		t.Error("unlisted channel should not match")
	}
}

func TestBindingRequireMention(t *testing.T) {
	b := Binding{AgentID: "main", Channel: "discord", RequireMention: true}

	silent := discordMsg(map[string]any{"discord_guild_id": "42"})
	if b.Matches(silent) {
		t.Error("guild message without mention should not match")
	}

	mentioned := discordMsg(map[string]any{
		"discord_guild_id":                     "42",
		"discord_mentions_or_replies_to_bot":   true,
	})
	if !b.Matches(mentioned) {
		t.Error("mentioned guild message should match")
	}
}

func TestBindingWebchatMatchesAgentID(t *testing.T) {
	b := Binding{AgentID: "support", Channel: "webchat"}
	msg := &spacebot.InboundMessage{Source: "webchat", AgentID: "support"}
	if !b.Matches(msg) {
		t.Error("webchat message carrying the agent id should match")
	}
	msg.AgentID = "other"
	if b.Matches(msg) {
		t.Error("webchat message for another agent should not match")
	}
}

func TestResolveAgentFirstMatchWins(t *testing.T) {
	bindings := []Binding{
		{AgentID: "first", Channel: "slack", WorkspaceID: "W1"},
		{AgentID: "second", Channel: "slack"},
	}
	msg := &spacebot.InboundMessage{
		Source:   "slack",
		Metadata: map[string]any{"slack_workspace_id": "W1"},
	}

	if got := ResolveAgentForMessage(bindings, msg, "fallback"); got != "first" {
		t.Errorf("expected first, got %s", got)
	}

	// Determinism: same input, same answer.
	for i := 0; i < 10; i++ {
		if got := ResolveAgentForMessage(bindings, msg, "fallback"); got != "first" {
			t.Fatalf("non-deterministic resolution: %s", got)
		}
	}
}

func TestResolveAgentFallsBackToDefault(t *testing.T) {
	bindings := []Binding{{AgentID: "main", Channel: "discord"}}
	msg := &spacebot.InboundMessage{Source: "telegram"}
	if got := ResolveAgentForMessage(bindings, msg, "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
}
