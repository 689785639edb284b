package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/executive-assistant/ken/internal/channel"
	"github.com/executive-assistant/ken/internal/config"
	"github.com/executive-assistant/ken/internal/flow"
	"github.com/executive-assistant/ken/internal/identity"
	"github.com/executive-assistant/ken/internal/llm"
	"github.com/executive-assistant/ken/internal/logctx"
	"github.com/executive-assistant/ken/internal/observability"
	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/scheduler"
	"github.com/executive-assistant/ken/internal/storage"
	"github.com/executive-assistant/ken/internal/tool"
)

// ServeCmd starts the runtime: it loads config, wires every component,
// starts the enabled channels and the scheduler, and blocks until
// SIGINT/SIGTERM, mirroring the teacher's ServeCmd lifecycle shape
// (signal-driven context cancellation, graceful per-component Stop) without
// the a2a protocol server or agent hot-reload watcher this runtime has no
// equivalent of.
type ServeCmd struct {
	MetricsAddr string `help:"Address to serve Prometheus metrics on (empty disables it)." default:":9090"`
}

func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logctx.From(ctx).Info("ken: shutdown signal received")
		cancel()
	}()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring runtime: %w", err)
	}
	defer rt.store.Close()

	if s.MetricsAddr != "" {
		go serveMetrics(ctx, s.MetricsAddr, rt.metrics)
	}

	for _, ch := range rt.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("starting channel %s: %w", ch.Name(), err)
		}
		logctx.From(ctx).Info("ken: channel started", "channel", ch.Name())
	}

	go rt.scheduler.Run(ctx)

	printBanner(cfg, rt.channels)

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	for _, ch := range rt.channels {
		if err := ch.Stop(stopCtx); err != nil {
			logctx.From(ctx).Warn("ken: channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
	return nil
}

// runtime holds every wired component a running process needs to keep a
// reference to (for Stop/Close at shutdown); everything else is captured
// in closures at construction time.
type runtime struct {
	store     storage.RelationalStore
	channels  []channel.Channel
	scheduler *scheduler.Scheduler
	metrics   *observability.Metrics
}

// buildRuntime is the composition root: it constructs every component
// named in SPEC_FULL.md's C1-C9 breakdown and wires the forward-reference
// interfaces (reasoning.ModelClient, flow.ModelProvider, memory.Embedder,
// tool.FlowRunner, scheduler.FlowRunner/ReminderSink, channel.AgentRunner/
// WorkspaceResolver) to their concrete implementations, since none of
// those packages may import each other directly.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	store, err := openRelationalStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening relational store: %w", err)
	}

	router := storage.NewRouter(cfg.Storage.Root)
	cache := storage.NewConnCache()
	idResolver := identity.New(store)
	models := llm.New(cfg.LLM, nil) // re-created below once tools exist

	loopBreak := tool.NewLoopBreakBuffer(time.Duration(cfg.Middleware.LoopBreakWindowSeconds) * time.Second)
	tools := tool.New(loopBreak)

	if err := wireTools(tools, cfg, store, router); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	// Tool definitions are only known once every RegisterXTools call above
	// has run, so the LLM registry (which advertises them to the model) is
	// built a second time, now with the fully populated registry.
	models = llm.New(cfg.LLM, tools)

	notifier := newChannelRegistry()
	flowRunner := flow.New(store, models, tools, notifier)
	if err := tool.RegisterFlowTools(tools, store, flowRunner); err != nil {
		return nil, fmt.Errorf("registering flow tools: %w", err)
	}

	checkpointer := reasoning.NewCheckpointer(store)
	metrics := observability.NewMetrics("ken")

	runner := &agentRunner{
		cfg:          cfg,
		identity:     idResolver,
		store:        store,
		router:       router,
		cache:        cache,
		tools:        tools,
		loopBreak:    loopBreak,
		models:       models,
		checkpointer: checkpointer,
		metrics:      metrics,
	}

	channels, err := wireChannels(ctx, cfg, runner, idResolver, router, cache, notifier, models, store)
	if err != nil {
		return nil, fmt.Errorf("wiring channels: %w", err)
	}

	sched := scheduler.New(store, notifier, flowRunner)
	sched.TickInterval = time.Duration(cfg.Scheduler.TickIntervalSeconds) * time.Second

	return &runtime{store: store, channels: channels, scheduler: sched, metrics: metrics}, nil
}

func openRelationalStore(ctx context.Context, cfg *config.Config) (storage.RelationalStore, error) {
	if cfg.Storage.PostgresDSN != "" {
		return storage.OpenPGStore(ctx, cfg.Storage.PostgresDSN)
	}
	return storage.OpenSQLiteStore(cfg.Storage.Root + "/identity.sqlite")
}

// wireTools registers every built-in tool group except flow tools, which
// need a *flow.Runner that in turn needs this registry (broken by
// registering flow tools after construction, in buildRuntime).
func wireTools(tools *tool.Registry, cfg *config.Config, store storage.RelationalStore, router *storage.Router) error {
	sandboxFor := func(workspaceID string) (*storage.Sandbox, error) {
		paths, err := router.Resolve(workspaceID)
		if err != nil {
			return nil, err
		}
		return storage.NewSandbox(paths.FilesRoot, cfg.Storage.AllowedExtensions, int64(cfg.Storage.MaxFileSizeMB)*1024*1024), nil
	}
	if err := tool.RegisterFSTools(tools, sandboxFor); err != nil {
		return err
	}

	if err := tool.RegisterReminderTools(tools, store); err != nil {
		return err
	}

	if err := tool.RegisterTaskTools(tools, tool.NewTaskManager()); err != nil {
		return err
	}

	kbDirFor := func(workspaceID string) (string, error) {
		paths, err := router.Resolve(workspaceID)
		if err != nil {
			return "", err
		}
		return paths.VectorDB, nil
	}
	if err := tool.RegisterKBTools(tools, tool.NewKBStore(kbDirFor)); err != nil {
		return err
	}

	tableDBFor := func(workspaceID string) (string, error) {
		paths, err := router.Resolve(workspaceID)
		if err != nil {
			return "", err
		}
		return paths.RelationalDB, nil
	}
	if err := tool.RegisterTableTools(tools, tool.NewTableStore(tableDBFor)); err != nil {
		return err
	}

	if err := tool.RegisterWebTools(tools, cfg.Tools.SearxngHost, time.Duration(cfg.Tools.WebFetchTimeoutSeconds)*time.Second); err != nil {
		return err
	}

	var mcpServers []tool.MCPServerConfig
	for name, url := range cfg.Tools.MCPEndpoints {
		mcpServers = append(mcpServers, tool.MCPServerConfig{Name: name, URL: url, Transport: "streamable-http"})
	}
	if len(mcpServers) > 0 {
		if err := tool.RegisterMCPTools(tools, mcpServers); err != nil {
			return err
		}
	}

	return nil
}

func wireChannels(ctx context.Context, cfg *config.Config, runner channel.AgentRunner, ws channel.WorkspaceResolver, router *storage.Router, cache *storage.ConnCache, notifier *channelRegistry, models *llm.Registry, store storage.RelationalStore) ([]channel.Channel, error) {
	var channels []channel.Channel

	dispatcher := channel.NewDispatcher(runner, ws, router, cache, cfg.Admin.UserIDs)

	summarizer, err := models.Summarizer(cfg.LLM.DefaultModel)
	if err != nil {
		logctx.From(ctx).Warn("wireChannels: summarizer unavailable, /summarize will be disabled", "error", err)
	}

	httpChannel := channel.NewHTTPChannel(cfg.Channels.HTTP.Addr, cfg.Channels.HTTP.RequireUser, dispatcher, summarizer, store)
	channels = append(channels, httpChannel)

	if cfg.Channels.Telegram.Enabled {
		tg, err := channel.NewTelegramChannel(cfg.Channels.Telegram.BotToken, cfg.Channels.Telegram.MaxMessageChars, dispatcher)
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		channels = append(channels, tg)
	}

	if cfg.Channels.Discord.Enabled {
		dc, err := channel.NewDiscordChannel(cfg.Channels.Discord.BotToken, dispatcher)
		if err != nil {
			return nil, fmt.Errorf("discord channel: %w", err)
		}
		channels = append(channels, dc)
	}

	for _, ch := range channels {
		notifier.register(ch)
	}
	return channels, nil
}

func serveMetrics(ctx context.Context, addr string, m *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logctx.From(ctx).Error("ken: metrics server failed", "error", err)
	}
}

func printBanner(cfg *config.Config, channels []channel.Channel) {
	fmt.Println("ken: executive assistant runtime started")
	fmt.Printf("  llm provider: %s (model %s)\n", cfg.LLM.DefaultProvider, cfg.LLM.DefaultModel)
	fmt.Printf("  storage root: %s\n", cfg.Storage.Root)
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	fmt.Printf("  channels: %v\n", names)
}
