package config

import (
	spacebot "github.com/nevindra/spacebot"
)

// Binding routes inbound messages to an agent. A binding matches when its
// channel equals the message source and every set filter passes; the first
// matching binding wins.
type Binding struct {
	AgentID string `toml:"agent_id"`
	Channel string `toml:"channel"` // message source: "discord", "slack", ...

	GuildID     string   `toml:"guild_id"`
	WorkspaceID string   `toml:"workspace_id"`
	ChatID      string   `toml:"chat_id"`
	ChannelIDs  []string `toml:"channel_ids"`
	// RequireMention applies to Discord guild messages only: the message
	// must mention the bot or reply to one of its messages.
	RequireMention bool `toml:"require_mention"`
	// DMAllowedUsers gates direct messages; empty means no DMs match.
	DMAllowedUsers []string `toml:"dm_allowed_users"`
}

// Matches reports whether this binding applies to msg.
func (b *Binding) Matches(msg *spacebot.InboundMessage) bool {
	if b.Channel != msg.Source {
		return false
	}

	// Webchat messages carry the agent id directly.
	if msg.Source == "webchat" && msg.AgentID != "" {
		return msg.AgentID == b.AgentID
	}

	// Discord DMs have no guild id — match on the DM allow-list alone.
	if msg.Source == "discord" {
		if _, hasGuild := msg.MetaString("discord_guild_id"); !hasGuild {
			return len(b.DMAllowedUsers) > 0 && contains(b.DMAllowedUsers, msg.SenderID)
		}
	}

	if b.GuildID != "" {
		guild, _ := msg.MetaString("discord_guild_id")
		if guild != b.GuildID {
			return false
		}
	}

	if b.WorkspaceID != "" {
		ws, _ := msg.MetaString("slack_workspace_id")
		if ws != b.WorkspaceID {
			return false
		}
	}

	if len(b.ChannelIDs) > 0 {
		direct, _ := msg.MetaString("discord_channel_id")
		parent, _ := msg.MetaString("discord_parent_channel_id")
		slack, _ := msg.MetaString("slack_channel_id")
		twitch, _ := msg.MetaString("twitch_channel")

		match := (direct != "" && contains(b.ChannelIDs, direct)) ||
			(slack != "" && contains(b.ChannelIDs, slack)) ||
			(twitch != "" && contains(b.ChannelIDs, twitch)) ||
			(parent != "" && contains(b.ChannelIDs, parent))
		if !match {
			return false
		}
	}

	if b.Channel == "discord" && b.RequireMention {
		if _, isGuild := msg.MetaString("discord_guild_id"); isGuild {
			if !msg.MetaBool("discord_mentions_or_replies_to_bot") {
				return false
			}
		}
	}

	if b.ChatID != "" {
		chat, _ := msg.MetaString("telegram_chat_id")
		if chat != b.ChatID {
			return false
		}
	}

	return true
}

// ResolveAgentForMessage returns the agent id of the first matching binding,
// or defaultAgent when nothing matches. Deterministic for a fixed binding
// order.
func ResolveAgentForMessage(bindings []Binding, msg *spacebot.InboundMessage, defaultAgent string) string {
	for i := range bindings {
		if bindings[i].Matches(msg) {
			return bindings[i].AgentID
		}
	}
	return defaultAgent
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
