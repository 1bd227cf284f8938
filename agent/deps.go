// Package agent implements the process hierarchy: Channel (long-lived
// conversation actor), Branch (context fork), Worker (tool-using executor),
// Compactor (context reducer), Cortex (bulletin maintainer), and the Router
// that maps inbound messages onto agents and channels.
package agent

import (
	"log/slog"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
	"github.com/nevindra/spacebot/llm"
	"github.com/nevindra/spacebot/memory"
	"github.com/nevindra/spacebot/messaging"
	"github.com/nevindra/spacebot/store/sqlite"
)

// Deps bundles one agent's shared resources. Channels, branches, workers,
// the compactor, the cortex, cron, and ingestion all hold a copy.
type Deps struct {
	AgentID   spacebot.AgentID
	Store     *sqlite.Store
	LLM       *llm.Manager
	Runtime   *config.RuntimeConfig
	Events    *spacebot.EventBus
	Memory    memory.Search
	Messaging *messaging.Manager

	// Workspace is the agent's confinement root for shell/file/exec tools.
	Workspace string
	// DataDir, ArchivesDir, IngestDir are the agent's state directories;
	// tools may never write into DataDir.
	DataDir     string
	ArchivesDir string
	IngestDir   string

	// BraveAPIKey enables the worker web_search tool when set.
	BraveAPIKey string

	Logger *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return spacebot.NopLogger()
	}
	return d.Logger
}
