// BillGuard - Behavioural anomaly detection for telecom billing.
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
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/billguard/internal/api"
	"github.com/opensource-finance/billguard/internal/bus"
	"github.com/opensource-finance/billguard/internal/cache"
	"github.com/opensource-finance/billguard/internal/config"
	"github.com/opensource-finance/billguard/internal/detector"
	"github.com/opensource-finance/billguard/internal/domain"
	"github.com/opensource-finance/billguard/internal/repository"
	"github.com/opensource-finance/billguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// baselineWindow is how far back the archive is read at startup.
const baselineWindow = 90 * 24 * time.Hour

func main() {
	// Load configuration
	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(newLogger(cfg.Logging))

	// Log startup
	slog.Info("starting billguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Detection configuration fails fast
	detectionCfg, err := config.Load(cfg.DetectionConfigPath)
	if err != nil {
		slog.Error("failed to load detection configuration", "path", cfg.DetectionConfigPath, "error", err)
		os.Exit(1)
	}

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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
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

	// Initialize Detector
	det, err := detector.New(detectionCfg)
	if err != nil {
		slog.Error("failed to initialize detector", "error", err)
		os.Exit(1)
	}
	loadBaselineFromArchive(ctx, repo, det)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("BILLGUARD_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, det)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, det, cfg.DetectionConfigPath, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("billguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("billguard shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadBaselineFromArchive builds the startup baselines from recently
// archived records. An empty archive leaves the detector without baselines
// until POST /baseline is called.
func loadBaselineFromArchive(ctx context.Context, repo domain.Repository, det *detector.Detector) {
	records, err := repo.ListRecords(ctx, time.Now().Add(-baselineWindow), time.Time{})
	if err != nil {
		slog.Warn("failed to read archived records", "error", err)
		return
	}
	if len(records) == 0 {
		slog.Info("no archived records - build baselines via POST /baseline")
		return
	}

	report := det.BuildBaseline(ctx, records)
	slog.Info("baselines built from archive",
		"records", report.Records,
		"operators", report.Operators,
		"business_types", report.BusinessTypes,
	)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  BillGuard - telecom billing anomaly detection")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /baseline               - Rebuild baselines from posted records")
	fmt.Println("    POST /baseline/archive       - Rebuild baselines from the archive")
	fmt.Println("    GET  /baseline               - Show baseline profiles")
	fmt.Println("    POST /detect                 - Score a batch")
	fmt.Println("    POST /batches                - Enqueue a batch for the worker")
	fmt.Println("    GET  /runs/{id}              - Get a detection run")
	fmt.Println("    GET  /runs/{id}/high-risk    - High-risk records of a run")
	fmt.Println("    GET  /config                 - Active detection configuration")
	fmt.Println("    POST /config/reload          - Hot-reload detection configuration")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
