// Package main is the entry point for the agentx daemon. It supervises ACP
// agent subprocesses and exposes their sessions over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/common/config"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/events"
	"github.com/agentx/agentx/internal/message"
	"github.com/agentx/agentx/internal/persistence"
	"github.com/agentx/agentx/internal/server"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting agentx daemon...",
		zap.Int("agents", len(cfg.Agents)),
		zap.String("persistence_dir", cfg.Persistence.Dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus (in-memory unless NATS is configured)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer func() { _ = busCleanup() }()
	eventBus := provided.Bus
	if provided.NATS != nil {
		log.Info("Using NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	// 4. Session journal
	persist, err := persistence.NewService(cfg.Persistence.Dir, log)
	if err != nil {
		log.Fatal("Failed to initialize session journal", zap.Error(err))
	}

	// 5. Agent manager: spawn all configured agents in the background
	agents := agent.NewManager(eventBus, log)
	if err := agents.Initialize(ctx, cfg.Agents, cfg.Proxy); err != nil {
		log.Fatal("Failed to start agents", zap.Error(err))
	}

	// 6. Message service: journal subscriptions + prompt routing
	messages := message.NewService(eventBus, agents, persist, log)
	if err := messages.InitPersistence(); err != nil {
		log.Fatal("Failed to start persistence subscriptions", zap.Error(err))
	}

	// 7. HTTP + WebSocket API
	srv := server.New(cfg, agents, messages, eventBus, log)
	srv.Start()

	log.Info("API configured",
		zap.String("http", "/api/v1"),
		zap.String("websocket", "/ws/sessions/:sessionId"),
		zap.String("health", "/health"))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agentx daemon...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	messages.Close()
	agents.Shutdown(shutdownCtx)
	eventBus.Close()

	log.Info("agentx daemon stopped")
}
