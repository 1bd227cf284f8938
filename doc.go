// Package spacebot is a multi-agent orchestration runtime. One process hosts
// any number of independent agents; inbound chat messages from heterogeneous
// platforms are routed to an agent and into a long-lived Channel actor, which
// forks Branches for isolated thinking, spawns Workers for tool-driven
// execution, and compacts its own context as it grows.
//
// # Process hierarchy
//
// Each agent runs a four-tier hierarchy:
//
//	Channel — long-lived conversation actor, one per conversation id
//	Branch  — short-lived fork of a Channel's context with memory tools
//	Worker  — tool-using executor, optionally driving an ACP subprocess
//	Cortex  — periodic maintainer of the memory bulletin and associations
//
// The root package defines the contracts shared by every subsystem:
//
//   - [InboundMessage] / [OutboundResponse] — the adapter message shapes
//   - [ProcessEvent] — the broadcast event bus record
//   - [Tool] and [ToolServer] — the tool execution surface
//   - LLM protocol types ([ChatMessage], [ToolCall], [CompletionResponse])
//
// Subsystems live in subpackages: llm (provider routing with retry, fallback
// chains, and rate-limit cooldown), agent (the process hierarchy), cron
// (recurring jobs), ingest (resumable memory ingestion), acp (external coding
// agent subprocess driver), mcp (external tool servers), internal/config
// (hot-reload configuration plane), store/sqlite (per-agent persistence).
//
// See cmd/spacebot for the daemon entry point.
package spacebot
