package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/crewd/internal/actor"
	"github.com/nextlevelbuilder/crewd/internal/agent"
	"github.com/nextlevelbuilder/crewd/internal/artifacts"
	"github.com/nextlevelbuilder/crewd/internal/bus"
	"github.com/nextlevelbuilder/crewd/internal/config"
	"github.com/nextlevelbuilder/crewd/internal/eventlog"
	"github.com/nextlevelbuilder/crewd/internal/gateway"
	"github.com/nextlevelbuilder/crewd/internal/kernel"
	"github.com/nextlevelbuilder/crewd/internal/orchestrator"
	"github.com/nextlevelbuilder/crewd/internal/procs"
	"github.com/nextlevelbuilder/crewd/internal/prompts"
	"github.com/nextlevelbuilder/crewd/internal/providers"
	"github.com/nextlevelbuilder/crewd/internal/store"
	"github.com/nextlevelbuilder/crewd/internal/telemetry"
	"github.com/nextlevelbuilder/crewd/internal/tools"
)

var recoverFlag bool

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the team daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().BoolVar(&recoverFlag, "recover", false, "respawn agents from the event journal instead of the configured team")
	return cmd
}

func runServe() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(shutdownCtx)
	}()

	b := bus.New()
	journal, err := eventlog.New(cfg.DataDir)
	if err != nil {
		return err
	}
	arts := artifacts.NewStore()
	processes := procs.NewRegistry()
	defer processes.StopAll()

	registry := tools.NewRegistry()
	registry.Register(tools.NewChatroomSendTool())
	registry.Register(tools.NewWaitTool())
	registry.Register(tools.NewSetConversationTitleTool())
	registry.Register(tools.NewWebSearchTool(cfg.Tools.BraveAPIKey))
	registry.Register(tools.NewPythonRunTool(time.Duration(cfg.Tools.PythonTimeoutSecs) * time.Second))
	registry.Register(tools.NewArtifactReadTool(arts))
	registry.Register(tools.NewProcessStartTool(processes))
	registry.Register(tools.NewProcessReadTool(processes))
	registry.Register(tools.NewProcessStopTool(processes))
	tools.RegisterSystemTools(registry)

	loader, err := prompts.NewLoader(cfg.PromptsDir)
	if err != nil {
		return err
	}
	if err := loader.Watch(ctx); err != nil {
		slog.Warn("prompt watch unavailable", "error", err)
	}

	provider := providers.NewOpenAIProvider(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model)

	roleFor := func(name string) tools.Role {
		if name == cfg.Team.Leader {
			return tools.RoleLeader
		}
		return tools.RoleCollaborator
	}
	systemPromptFor := func(name string) string {
		role := roleFor(name)
		return loader.SystemPrompt(name, cfg.Team.Leader, cfg.Team.Names(), registry.PromptFragment(role))
	}

	var k *kernel.Kernel
	factory := func(name, systemPrompt string, temperature float64) (actor.Handler, error) {
		if systemPrompt == "" {
			systemPrompt = systemPromptFor(name)
		}
		return agent.New(agent.Options{
			Name:         name,
			SystemPrompt: systemPrompt,
			Temperature:  temperature,
			Model:        cfg.Provider.Model,
			MaxTokens:    cfg.Provider.MaxTokens,
			Role:         roleFor(name),
			Bus:          b,
			Provider:     provider,
			Registry:     registry,
			Artifacts:    arts,
			Roster:       func() []string { return k.ListAgents() },
		}), nil
	}
	k = kernel.New(b, journal, factory, cfg.Team.Leader, cfg.Team.StartBudget)
	k.Start(ctx)
	defer k.Stop()

	if recoverFlag {
		respawned := k.Recover()
		slog.Info("recovered team from journal", "agents", respawned)
	} else {
		for _, name := range cfg.Team.Names() {
			if err := k.SpawnAgent(name, systemPromptFor(name), cfg.Team.Temperature(name)); err != nil {
				return err
			}
		}
	}

	critic := agent.NewCriticAgent("Shadow", b, provider, cfg.Provider.Model)
	critic.Attach()
	defer critic.Detach()

	history, err := openHistory(cfg.History)
	if err != nil {
		return err
	}
	defer history.Close()
	if err := history.Initialize(ctx); err != nil {
		return err
	}
	writer := store.NewWriter(history)
	writer.Start()
	defer writer.Stop()

	sessions := func() *orchestrator.Orchestrator {
		return orchestrator.New(orchestrator.Options{
			Leader:           cfg.Team.Leader,
			Collaborators:    cfg.Team.Collaborators,
			Temperature:      cfg.Team.Temperature,
			SystemPrompt:     systemPromptFor,
			Provider:         provider,
			Model:            cfg.Provider.Model,
			MaxTokens:        cfg.Provider.MaxTokens,
			Registry:         registry,
			System:           k,
			History:          writer,
			MaxSteps:         cfg.Session.MaxSteps,
			MaxToolRounds:    cfg.Session.MaxToolRounds,
			RequireTitleTool: cfg.Session.RequireTitleTool,
		})
	}

	server := gateway.NewServer(cfg.Gateway, sessions, history, b, journal)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })

	slog.Info("crewd running", "leader", cfg.Team.Leader, "team", cfg.Team.Names())
	return g.Wait()
}

func openHistory(cfg config.HistoryConfig) (store.HistoryStore, error) {
	if cfg.PostgresDSN != "" {
		return store.NewPostgres(cfg.PostgresDSN)
	}
	return store.NewSQLite(cfg.SQLitePath)
}
