package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/channels"
	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/gateway"
	"github.com/nextlevelbuilder/agentgate/internal/nodes"
	"github.com/nextlevelbuilder/agentgate/internal/ratelimit"
	"github.com/nextlevelbuilder/agentgate/internal/router"
	"github.com/nextlevelbuilder/agentgate/internal/sessions"
	"github.com/nextlevelbuilder/agentgate/internal/store"
	"github.com/nextlevelbuilder/agentgate/internal/store/pg"
	"github.com/nextlevelbuilder/agentgate/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentgate/internal/tracing"
	"github.com/nextlevelbuilder/agentgate/internal/usage"
	"github.com/nextlevelbuilder/agentgate/internal/worker"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway server",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(shutdownCtx)
	}()

	sessionStore, messageLog, closeStore, err := openStores(cfg)
	if err != nil {
		slog.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	allowlistPath, err := config.ExpandHome(cfg.Sessions.Allowlist)
	if err != nil {
		slog.Error("allowlist path", "error", err)
		os.Exit(1)
	}
	allowlist, err := sessions.LoadAllowlist(allowlistPath)
	if err != nil {
		slog.Error("allowlist load failed", "error", err)
		os.Exit(1)
	}
	if err := allowlist.Watch(ctx); err != nil {
		slog.Warn("allowlist watch unavailable", "error", err)
	}

	sessionMgr := sessions.NewManager(sessions.ManagerConfig{
		DMPolicy: sessions.DMPolicy(cfg.Sessions.DMPolicy),
	}, sessionStore, allowlist)

	lifecycle := sessions.NewLifecycle(sessions.LifecycleConfig{
		SessionTimeout:  cfg.SessionTimeout(),
		CleanupInterval: cfg.CleanupInterval(),
	}, sessionStore, messageLog, nil)
	lifecycle.Start(ctx)

	nodeRegistry := nodes.NewRegistry(nil)
	nodePairing := nodes.NewPairingManager()
	nodeConns := nodes.NewConnectionManager(nodes.ConnectionConfig{}, nodeRegistry, nodePairing)
	nodeConns.Start(ctx)

	agent := worker.New(worker.Config{
		URL:            cfg.Worker.URL,
		Token:          cfg.Worker.Token,
		RequestTimeout: cfg.WorkerRequestTimeout(),
		MaxReconnects:  cfg.Worker.MaxReconnects,
	}, nil)
	defer agent.Close()

	tracker := usage.NewTracker(cfg.Usage.MaxRecords)

	var httpLimiter *ratelimit.Limiter
	var chatLimiter *ratelimit.Limiter
	if cfg.Gateway.RateLimitRPM > 0 {
		httpLimiter = ratelimit.New(cfg.Gateway.RateLimitRPM, cfg.RateLimitWindow())
		httpLimiter.Start(ctx)
	}
	if cfg.Gateway.ChatRateLimitRPM > 0 {
		chatLimiter = ratelimit.New(cfg.Gateway.ChatRateLimitRPM, cfg.RateLimitWindow())
		chatLimiter.Start(ctx)
	}

	channelRegistry := channels.NewRegistry()
	channelRegistry.Register(channels.NewLoopback("cli", "local", 0))
	channelRegistry.ConnectAll(ctx)
	defer channelRegistry.DisconnectAll(context.Background())

	router.New(router.Config{
		Sessions:   sessionMgr,
		Directives: sessions.NewDirectiveManager(),
		Agent:      agent,
		Channels:   channelRegistry,
		Limiter:    chatLimiter,
		Usage:      tracker,
		Messages:   messageLog,
		Events:     lifecycle.Events(),
	})

	srv := gateway.NewServer(cfg, gateway.Deps{
		Sessions:    sessionMgr,
		Lifecycle:   lifecycle,
		Nodes:       nodeRegistry,
		NodeConns:   nodeConns,
		NodePairing: nodePairing,
		Usage:       tracker,
		Agent:       agent,
		Limiter:     httpLimiter,
	})

	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway shut down")
}

// openStores selects the session/message backend from config and returns a
// close func.
func openStores(cfg *config.Config) (store.SessionStore, store.MessageLog, func(), error) {
	switch cfg.Sessions.Storage {
	case "postgres":
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		ss, ml := pg.NewStores(db)
		slog.Info("using postgres session store")
		return ss, ml, func() { db.Close() }, nil

	case "memory":
		slog.Info("using in-memory session store")
		return store.NewMemorySessionStore(), store.NewMemoryMessageLog(), func() {}, nil

	default: // sqlite
		path, err := config.ExpandHome(cfg.Sessions.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, nil, err
		}
		ss, ml, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("using sqlite session store", "path", path)
		return ss, ml, func() { ss.Close() }, nil
	}
}
