package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neomagi/neomagi/internal/agent"
	"github.com/neomagi/neomagi/internal/bootstrap"
	"github.com/neomagi/neomagi/internal/budget"
	"github.com/neomagi/neomagi/internal/bus"
	"github.com/neomagi/neomagi/internal/channels/telegram"
	"github.com/neomagi/neomagi/internal/compaction"
	"github.com/neomagi/neomagi/internal/config"
	"github.com/neomagi/neomagi/internal/curator"
	"github.com/neomagi/neomagi/internal/dispatch"
	"github.com/neomagi/neomagi/internal/gateway"
	"github.com/neomagi/neomagi/internal/guardrail"
	"github.com/neomagi/neomagi/internal/memory"
	"github.com/neomagi/neomagi/internal/promptbuilder"
	"github.com/neomagi/neomagi/internal/providers"
	"github.com/neomagi/neomagi/internal/scope"
	"github.com/neomagi/neomagi/internal/store/pg"
	"github.com/neomagi/neomagi/internal/telemetry"
	"github.com/neomagi/neomagi/internal/tokencount"
	"github.com/neomagi/neomagi/internal/tools"
)

// registerProviders wires concrete providers.Provider implementations into
// registry. A concrete LLM provider SDK is outside this runtime's scope
// (see DESIGN.md); an embedder links their own client and registers it
// here before calling Execute, or forks this function.
func registerProviders(registry *providers.Registry, cfg *config.Config) {
	if len(cfg.Providers.List) == 0 {
		slog.Warn("no providers configured; chat.send will fail until one is registered")
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	if snap.Curator.Enabled {
		if err := curator.ValidateSchedule(snap.Curator.Schedule); err != nil {
			slog.Error("invalid curator schedule in config", "error", err)
			os.Exit(1)
		}
	}

	if snap.Database.PostgresDSN == "" {
		slog.Error("NEOMAGI_POSTGRES_DSN is not set")
		os.Exit(1)
	}

	db, err := pg.Open(snap.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	workspace := config.ExpandHome(snap.Workspace)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "error", err)
		os.Exit(1)
	}
	if seeded, err := bootstrap.EnsureWorkspaceFiles(workspace); err != nil {
		slog.Warn("bootstrap template seeding failed", "error", err)
	} else if len(seeded) > 0 {
		slog.Info("seeded workspace templates", "files", seeded)
	}

	telemetryProvider, err := telemetry.Init(context.Background(), snap.Telemetry)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	providerRegistry := providers.NewRegistry(snap.Providers.Default)
	registerProviders(providerRegistry, cfg)

	sessionStore := pg.NewSessionStore(db)
	budgetStore := pg.NewBudgetStore(db)
	memoryStore := pg.NewMemoryStore(db)

	counter := tokencount.New()
	indexer := memory.NewIndexer(workspace, memoryStore)
	memWriter := memory.NewWriter(workspace, snap.Runtime.DailyNoteByteBudget, indexer)
	memSearcher := memory.NewSearcher(memoryStore)

	toolsReg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(toolsReg, workspace, memory.NewToolSearcher(memSearcher), memWriter); err != nil {
		slog.Error("failed to register builtin tools", "error", err)
		os.Exit(1)
	}

	promptBuilder := promptbuilder.New(workspace, toolsReg)
	tracker := budget.New(snap.Runtime, counter)

	var compactionProvider providers.Provider
	if entry, err := providerRegistry.Get(""); err == nil {
		compactionProvider = entry.Provider
	}
	compactor := compaction.NewEngine(compactionProvider, counter, workspace, snap.Runtime)

	loop := agent.NewLoop(sessionStore, toolsReg, promptBuilder, tracker, compactor, memWriter, memSearcher, counter, workspace, snap.Runtime)
	dispatcher := dispatch.New(providerRegistry, sessionStore, budgetStore, loop, snap.Runtime)

	server := gateway.NewServer(cfg, dispatcher, sessionStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := config.NewWatcher(cfgPath)
	if err := watcher.Start(ctx); err != nil {
		slog.Warn("failed to start config watcher", "error", err)
	} else {
		go watchConfigReloads(ctx, cfgPath, cfg, watcher)
	}

	guardWatcher := guardrail.NewWatcher(workspace)
	if err := guardWatcher.Start(ctx); err != nil {
		slog.Warn("failed to start guardrail watcher", "error", err)
	} else {
		go watchGuardrailReloads(ctx, loop, guardWatcher)
	}

	var tgChannel *telegram.Channel
	if snap.Telegram.Enabled && snap.Telegram.Token != "" {
		router := bus.NewRouter(256)
		tg, err := telegram.New(snap.Telegram, router)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			tgChannel = tg
			if err := tgChannel.Start(ctx); err != nil {
				slog.Error("failed to start telegram channel", "error", err)
				tgChannel = nil
			} else {
				slog.Info("telegram channel enabled")
				go pumpTelegramInbound(ctx, router, dispatcher, scope.DMScopePolicy(snap.Runtime.DMScopePolicy))
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		if tgChannel != nil {
			_ = tgChannel.Stop(context.Background())
		}
		cancel()
	}()

	slog.Info("neomagi gateway starting", "version", Version, "addr_host", snap.Gateway.Host, "addr_port", snap.Gateway.Port)
	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// watchConfigReloads re-reads cfgPath on every fsnotify event and applies
// it in place via ReplaceFrom, so in-flight readers of cfg.Snapshot() see
// the new values on their next call without a restart. A parse failure
// logs and keeps the previous config live.
func watchConfigReloads(ctx context.Context, cfgPath string, cfg *config.Config, watcher *config.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events():
			if !ok {
				return
			}
			reloaded, err := config.Load(cfgPath)
			if err != nil {
				slog.Warn("config_reload_failed", "path", ev.Path, "error", err)
				continue
			}
			cfg.ReplaceFrom(reloaded)
			slog.Info("config_reloaded", "path", ev.Path)
		}
	}
}

// watchGuardrailReloads reloads the Agent Loop's core safety contract as
// soon as an anchor file changes on disk, instead of waiting for the next
// turn's lazy hash check to notice.
func watchGuardrailReloads(ctx context.Context, loop *agent.Loop, watcher *guardrail.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events():
			if !ok {
				return
			}
			loop.RefreshContract()
			slog.Info("guardrail_contract_reloaded")
		}
	}
}

// pumpTelegramInbound drains router's inbound queue, drives the dispatcher
// for each turn, and republishes replies for the channel adapter to send.
func pumpTelegramInbound(ctx context.Context, router *bus.Router, dispatcher *dispatch.Dispatcher, dmScope scope.DMScopePolicy) {
	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go handleTelegramTurn(ctx, router, dispatcher, msg, dmScope)
	}
}

func handleTelegramTurn(ctx context.Context, router *bus.Router, dispatcher *dispatch.Dispatcher, msg bus.InboundMessage, dmScope scope.DMScopePolicy) {
	events, errc, err := dispatcher.Dispatch(ctx, dispatch.Request{
		SessionID: msg.SessionID,
		Content:   msg.Content,
		Provider:  msg.Provider,
		Identity:  identityFromInbound(msg),
		DMScope:   dmScope,
	})
	if err != nil {
		slog.Warn("telegram_dispatch_failed", "session_id", msg.SessionID, "error", err)
		router.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: "Sorry, something went wrong."})
		return
	}

	var reply string
	for ev := range events {
		if ev.Type == agent.EventTextChunk {
			reply += ev.TextChunk
		}
	}
	if turnErr := <-errc; turnErr != nil {
		slog.Warn("telegram_turn_failed", "session_id", msg.SessionID, "error", turnErr)
	}
	if reply != "" {
		router.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply})
	}
}

func identityFromInbound(msg bus.InboundMessage) scope.Identity {
	return scope.Identity{
		SessionID:   msg.SessionID,
		ChannelType: msg.Channel,
		PeerID:      msg.ChatID,
	}
}
