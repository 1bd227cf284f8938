// Command spacebot runs the multi-agent orchestration daemon and its
// control CLI (status, shutdown over the instance socket).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/agent"
	"github.com/nevindra/spacebot/cron"
	"github.com/nevindra/spacebot/daemon"
	"github.com/nevindra/spacebot/ingest"
	"github.com/nevindra/spacebot/internal/config"
	"github.com/nevindra/spacebot/llm"
	"github.com/nevindra/spacebot/mcp"
	"github.com/nevindra/spacebot/memory"
	"github.com/nevindra/spacebot/messaging"
	"github.com/nevindra/spacebot/store/sqlite"
	"github.com/nevindra/spacebot/tools/crontool"
	"github.com/nevindra/spacebot/tools/skilltool"
)

func main() {
	var instanceDir string
	var configPath string

	root := &cobra.Command{
		Use:   "spacebot",
		Short: "Multi-agent orchestration runtime",
	}
	root.PersistentFlags().StringVar(&instanceDir, "instance", defaultInstanceDir(), "instance directory")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <instance>/spacebot.toml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = filepath.Join(instanceDir, "spacebot.toml")
			}
			return run(instanceDir, configPath)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Query the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := daemon.Send(instanceDir, daemon.Command{Op: "status"})
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(reply, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}

	shutdownCmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := daemon.Send(instanceDir, daemon.Command{Op: "shutdown"})
			if err != nil {
				return err
			}
			out, _ := json.Marshal(reply)
			fmt.Println(string(out))
			return nil
		},
	}

	root.AddCommand(runCmd, statusCmd, shutdownCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultInstanceDir() string {
	if v := os.Getenv("SPACEBOT_INSTANCE"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".spacebot")
}

// agentRuntime bundles one agent's live subsystems for reload and
// shutdown.
type agentRuntime struct {
	agent   *agent.Agent
	runtime *config.RuntimeConfig
	store   *sqlite.Store
	cron    *cron.Scheduler
	mcp     *mcp.Manager
}

func run(instanceDir, configPath string) error {
	_ = godotenv.Load()

	if err := os.MkdirAll(instanceDir, 0o755); err != nil {
		return fmt.Errorf("create instance dir: %w", err)
	}

	logger, errOut, err := daemon.OpenLogs(instanceDir, slog.LevelInfo)
	if err != nil {
		return fmt.Errorf("open logs: %w", err)
	}

	fatal := func(err error) error {
		fmt.Fprintf(errOut, "spacebot: startup failed: %v\n", err)
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fatal(err)
	}
	if len(cfg.Agents) == 0 {
		return fatal(fmt.Errorf("config declares no agents"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	layout := config.InstanceLayout{Root: instanceDir}
	llmManager := llm.NewManager(cfg.LLM, logger)
	messagingManager := messaging.NewManager(logger)

	agents := make(map[spacebot.AgentID]*agent.Agent)
	runtimes := make(map[spacebot.AgentID]*agentRuntime)

	for _, agentCfg := range cfg.Agents {
		id := agentCfg.ID
		resolved := cfg.ResolveAgent(id)

		for _, dir := range []string{
			layout.Workspace(id), layout.DataDir(id), layout.ArchivesDir(id),
			layout.AgentLogsDir(id), layout.IngestDir(id),
		} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fatal(fmt.Errorf("create agent dirs for %s: %w", id, err))
			}
		}

		store := sqlite.New(filepath.Join(layout.DataDir(id), "spacebot.db"),
			sqlite.WithLogger(logger))
		if err := store.Init(ctx); err != nil {
			return fatal(fmt.Errorf("init store for %s: %w", id, err))
		}

		runtime := config.NewRuntimeConfig(resolved)
		runtime.SetIdentity(config.LoadIdentity(resolved.IdentityPath))
		runtime.SetPrompts(config.LoadPrompts(resolved.PromptsPath))
		runtime.SetSkills(config.LoadSkills(resolved.SkillsPath))

		agentLogger := logger.With("agent_id", id)
		deps := agent.Deps{
			AgentID:     id,
			Store:       store,
			LLM:         llmManager,
			Runtime:     runtime,
			Events:      spacebot.NewEventBus(agentLogger),
			Memory:      memory.NewStoreSearch(store, nil),
			Messaging:   messagingManager,
			Workspace:   layout.Workspace(id),
			DataDir:     layout.DataDir(id),
			ArchivesDir: layout.ArchivesDir(id),
			IngestDir:   layout.IngestDir(id),
			BraveAPIKey: resolved.BraveAPIKey,
			Logger:      agentLogger,
		}

		a := agent.New(deps)
		scheduler := cron.NewScheduler(a, store, messagingManager, runtime, agentLogger)
		mcpManager := mcp.NewManager(runtime.MCPServers(), agentLogger)
		a.ExtraTurnTools = []spacebot.Tool{
			crontool.New(scheduler, store, ""),
			skilltool.New(runtime),
			mcpManager.Tools(ctx),
		}

		agents[id] = a
		runtimes[id] = &agentRuntime{
			agent: a, runtime: runtime, store: store, cron: scheduler, mcp: mcpManager,
		}
	}

	router := agent.NewRouter(agents, cfg.DefaultAgentID(), cfg.Bindings, logger)

	// Start everything.
	for id, rt := range runtimes {
		rt.agent.Start(ctx)
		rt.mcp.ConnectAll(ctx)

		// Seed config-declared cron jobs, then start the scheduler.
		resolved := cfg.ResolveAgent(id)
		for _, j := range resolved.CronJobs {
			row := sqlite.CronJob{
				ID: j.ID, Prompt: j.Prompt, IntervalSecs: j.IntervalSecs,
				DeliveryTarget: j.DeliveryTarget, Enabled: j.Enabled,
				RunOnce: j.RunOnce, TimeoutSecs: j.TimeoutSecs,
			}
			if len(j.ActiveHours) == 2 {
				row.ActiveStart, row.ActiveEnd = &j.ActiveHours[0], &j.ActiveHours[1]
			}
			if err := rt.store.UpsertCronJob(ctx, row); err != nil {
				logger.Warn("failed to seed cron job", "agent_id", id, "cron_id", j.ID, "error", err)
			}
		}
		if err := rt.cron.Start(ctx); err != nil {
			return fatal(fmt.Errorf("start cron for %s: %w", id, err))
		}

		go ingest.NewLoop(rt.agent.Deps).Run(ctx)
	}

	// Hot reload: swap bindings and tunables, reconcile MCP, reload
	// identity/skills on path change. Messaging adapters are not started
	// or stopped here; DB paths and topology never reload.
	watcher := config.NewWatcher(configPath, logger)
	watcher.OnReload = func(next config.Config) {
		router.SetBindings(next.Bindings)
		for id, rt := range runtimes {
			resolved := next.ResolveAgent(id)
			rt.runtime.Apply(resolved)
			rt.runtime.SetIdentity(config.LoadIdentity(resolved.IdentityPath))
			rt.runtime.SetPrompts(config.LoadPrompts(resolved.PromptsPath))
			rt.runtime.SetSkills(config.LoadSkills(resolved.SkillsPath))
			rt.mcp.Reconcile(ctx, resolved.MCPServers)
		}
		logger.Info("runtime config swapped for all agents")
	}
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("config watcher stopped", "error", err)
		}
	}()

	d := daemon.New(instanceDir, logger)
	d.AgentIDs = func() []string { return cfg.AgentIDs() }
	d.OnShutdown = cancel
	if err := d.Start(); err != nil {
		return fatal(err)
	}
	defer d.Stop()

	logger.Info("spacebot running", "agents", len(agents), "instance", instanceDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info("signal received, shutting down")
		cancel()
	case <-ctx.Done():
	}

	for _, rt := range runtimes {
		rt.cron.Shutdown()
		rt.agent.Shutdown()
		rt.mcp.DisconnectAll()
		_ = rt.store.Close()
	}
	messagingManager.ShutdownAll(context.Background())
	logger.Info("shutdown complete")
	return nil
}
