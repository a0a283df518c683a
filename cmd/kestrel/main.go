// Kestrel - Real-time transaction fraud scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/checker"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/maintenance"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if dir := os.Getenv("KESTREL_MODEL_DIR"); dir != "" {
		cfg.Model.Dir = dir
	}
	if tz := os.Getenv("KESTREL_MODEL_TZ"); tz != "" {
		cfg.Model.Timezone = tz
	}
	if path := os.Getenv("KESTREL_DB_PATH"); path != "" {
		cfg.Repository.SQLitePath = path
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"model_dir", cfg.Model.Dir,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Resolve the feature clock once; checks and the trainer share it
	loc, err := cfg.Model.Location()
	if err != nil {
		slog.Error("failed to resolve model timezone", "error", err)
		os.Exit(1)
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository, loc)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Model Registry
	models, err := model.NewRegistry(cfg.Model.Dir, loc)
	if err != nil {
		slog.Error("failed to load model", "dir", cfg.Model.Dir, "error", err)
		os.Exit(1)
	}
	defer models.Close()
	if m, err := models.Current(); err == nil {
		slog.Info("model loaded", "version", m.Version, "dir", m.Dir)
	}

	// Compile operator-defined CEL checks
	customChecks, err := rules.Compile(cfg.CustomChecks, loc)
	if err != nil {
		slog.Error("failed to compile custom checks", "error", err)
		os.Exit(1)
	}

	// Initialize Velocity Engine
	var velocityEngine *velocity.Engine
	if cfg.Velocity.Enabled {
		extra := make([]velocity.Check, len(customChecks))
		for i, c := range customChecks {
			extra[i] = c
		}
		velocityEngine = velocity.NewEngine(cfg.Velocity, repo, extra...)
		slog.Info("velocity engine initialized", "checks", velocityEngine.CheckCount())
	} else {
		slog.Info("velocity checks disabled, scoring on model alone")
	}

	// Initialize Checker
	chk := checker.New(models, velocityEngine, cfg.Scoring)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, chk)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Maintenance Runner
	var maint *maintenance.Runner
	if cfg.Maintenance.Enabled {
		trainer := maintenance.NewScriptTrainer(cfg.Maintenance.TrainerScript)
		maint = maintenance.NewRunner(repo, models, trainer, busImpl, cfg.Maintenance, cfg.Repository.SQLitePath)
		maint.Start()
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, chk, models, cfg.Model.Dir, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop background components first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}
	if maint != nil {
		maint.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("                   KESTREL")
	fmt.Println("        Transaction Fraud Scoring Engine")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /check          - Score a transaction")
	fmt.Println("    GET  /checks/{id}    - Get a check result by ID")
	fmt.Println("    POST /feedback       - Record ground-truth feedback")
	fmt.Println("    GET  /model          - Active model info")
	fmt.Println("    POST /model/reload   - Hot-reload model artifacts")
	fmt.Println("    GET  /health         - Health check")
	fmt.Println()
}
