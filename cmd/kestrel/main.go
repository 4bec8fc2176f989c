// Kestrel - Dashboard backend for rate-limited project tracking APIs.
// Copyright (c) 2025 teamlens
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

	"github.com/teamlens/kestrel/internal/api"
	"github.com/teamlens/kestrel/internal/bus"
	"github.com/teamlens/kestrel/internal/cache"
	"github.com/teamlens/kestrel/internal/classify"
	"github.com/teamlens/kestrel/internal/domain"
	"github.com/teamlens/kestrel/internal/ratelimit"
	"github.com/teamlens/kestrel/internal/report"
	"github.com/teamlens/kestrel/internal/repository"
	"github.com/teamlens/kestrel/internal/resolve"
	"github.com/teamlens/kestrel/internal/upstream"
	"github.com/teamlens/kestrel/internal/worker"
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

	// Check for hosted deployment via environment
	if os.Getenv("KESTREL_HOSTED") == "true" {
		cfg = domain.HostedConfig()
		slog.Info("running in hosted mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"mode", cfg.Mode,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Backend,
		"eventbus", cfg.EventBus.Type,
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
	slog.Info("cache initialized", "backend", cfg.Cache.Backend)

	fetcher := cache.NewFetcher(cacheImpl)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize the tracking source. The strategy is picked once here;
	// nothing downstream ever inspects the mode again.
	var source domain.TrackingSource
	switch cfg.Mode {
	case domain.ModeLive:
		limiter := ratelimit.New(cfg.Upstream.RequestsPerWindow, cfg.Upstream.Window)
		client := upstream.NewClient(cfg.Upstream, limiter)
		source = upstream.NewLiveSource(client)
		slog.Info("live tracking source initialized",
			"base_url", cfg.Upstream.BaseURL,
			"requests_per_window", cfg.Upstream.RequestsPerWindow,
			"window", cfg.Upstream.Window,
		)
	default:
		source = upstream.NewStaticFixtureSource()
		slog.Info("fixture tracking source initialized")
	}

	// Initialize iteration resolver
	resolver := resolve.NewResolver(source, fetcher)

	// Initialize classification engine
	engine, err := classify.NewEngine()
	if err != nil {
		slog.Error("failed to initialize classification engine", "error", err)
		os.Exit(1)
	}
	if err := engine.LoadCategories(classify.DefaultCategories()); err != nil {
		slog.Error("failed to load classification categories", "error", err)
		os.Exit(1)
	}
	slog.Info("classification engine initialized",
		"categories", engine.CategoryKeys(),
	)

	// Initialize report orchestrator
	orchestrator := report.NewOrchestrator(source, fetcher, resolver, engine, repo, busImpl, report.Config{
		MaxBatchSize: cfg.Upstream.MaxBatchSize,
		BatchDelay:   cfg.Upstream.BatchDelay,
	})

	// Initialize sweep refresher
	var refresher *worker.Refresher
	projects := parseProjects(os.Getenv("KESTREL_PROJECTS"))
	if len(projects) > 0 {
		refresher = worker.NewRefresher(source, repo, busImpl, worker.Config{
			Projects:     projects,
			Interval:     15 * time.Minute,
			Retention:    24 * time.Hour,
			MaxBatchSize: cfg.Upstream.MaxBatchSize,
			BatchDelay:   cfg.Upstream.BatchDelay,
		})
		if err := refresher.Start(); err != nil {
			slog.Error("failed to start sweep refresher", "error", err)
		}
	} else {
		slog.Info("no projects configured for sweeping - set KESTREL_PROJECTS to enable the fallback tier")
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, fetcher, busImpl, source, resolver, orchestrator, cfg.Upstream, Version)

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

	// Stop the refresher first
	if refresher != nil {
		if err := refresher.Stop(); err != nil {
			slog.Error("failed to stop sweep refresher", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
		cfg.Mode = domain.ModeLive
	}
	if v := os.Getenv("KESTREL_UPSTREAM_TOKEN"); v != "" {
		cfg.Upstream.Token = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.Backend = "redis"
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
}

func parseProjects(raw string) []string {
	if raw == "" {
		return nil
	}
	var projects []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			projects = append(projects, p)
		}
	}
	return projects
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - dashboard backend for project tracking")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Mode:     %s\n", cfg.Mode)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET    /reports/classification - Bug classification report")
	fmt.Println("    GET    /iterations/resolve     - Resolve sprint references")
	fmt.Println("    GET    /metrics/velocity       - Iteration velocity")
	fmt.Println("    GET    /sweeps                 - Persisted sweep snapshots")
	fmt.Println("    GET    /cache/stats            - Cache counters")
	fmt.Println("    DELETE /cache/{namespace}      - Invalidate a namespace")
	fmt.Println("    GET    /health                 - Health check")
	fmt.Println()
}
