// whisperd is the ChainWhisperer analysis daemon. It ingests contract
// detections from the browser-side detector, enriches them against block
// explorers, brokers chat-analysis sessions, and serves the UI over
// HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainwhisperer/chainwhisperer/internal/chain"
	"github.com/chainwhisperer/chainwhisperer/internal/config"
	"github.com/chainwhisperer/chainwhisperer/internal/conversation"
	"github.com/chainwhisperer/chainwhisperer/internal/decompiler"
	"github.com/chainwhisperer/chainwhisperer/internal/explorer"
	"github.com/chainwhisperer/chainwhisperer/internal/metrics"
	"github.com/chainwhisperer/chainwhisperer/internal/orchestrator"
	"github.com/chainwhisperer/chainwhisperer/internal/storage"
	"github.com/chainwhisperer/chainwhisperer/internal/transport"
	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

type storeHealth struct {
	store *storage.SQLiteStore
}

func (h storeHealth) CheckStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.store.Ping(ctx)
}

func main() {
	// Setup logger
	var level slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("initialized storage", "path", cfg.DatabasePath)

	promMetrics := metrics.NewPrometheusMetrics(nil)

	chains := chain.DefaultRegistry()
	explorers := make(map[types.Chain]orchestrator.ExplorerClient)
	for _, name := range chains.Names() {
		def := chains.Get(name)
		if def == nil || !def.Supported {
			continue
		}
		clientCfg := explorer.DefaultClientConfig(def.ExplorerAPI, def.RPCURL, cfg.ExplorerAPIKey)
		clientCfg.Logger = logger
		explorers[name] = explorer.NewClient(clientCfg)
		logger.Info("registered explorer", "chain", string(name), "api", def.ExplorerAPI)
	}

	convCfg := conversation.DefaultClientConfig(cfg.ChatAPIURL, cfg.ChatAPIKey)
	convCfg.Logger = logger
	convClient := conversation.NewClient(convCfg)

	decompCfg := decompiler.DefaultClientConfig(cfg.DecompilerURL, cfg.DecompilerAPIKey)
	decompCfg.PollInterval = cfg.DecompilerPollInterval
	decompCfg.MaxAttempts = cfg.DecompilerMaxAttempts
	decompCfg.Logger = logger
	decompClient := decompiler.NewClient(decompCfg)
	oneShot := decompiler.NewOneShotClient(cfg.OneShotDecompilerURL, 0)

	orch := orchestrator.New(orchestrator.Config{
		Chains:           chains,
		Explorers:        explorers,
		Conversation:     convClient,
		Store:            store,
		Metrics:          promMetrics,
		Logger:           logger,
		ContractTTL:      cfg.ContractCacheTTL,
		SessionTTL:       cfg.SessionCacheTTL,
		EvictionInterval: cfg.EvictionInterval,
	})
	orch.SetDecompilers(decompClient, oneShot)

	srv := transport.NewServer(orch, chains, storeHealth{store: store}, logger, cfg.CORSAllowedOrigins)
	orch.SetNotifier(srv.WebSocket())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.PrewarmSessions(ctx); err != nil {
		logger.Warn("failed to prewarm session cache", "error", err)
	}
	go orch.RunEvictionLoop(ctx)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // chat and decompile calls are slow
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// Handle interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	srv.WebSocket().Stop()
	logger.Info("daemon stopped")
}
