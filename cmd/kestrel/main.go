// Kestrel - Real-time transaction fraud risk scoring.
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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/accountrisk"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/dedup"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
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
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := loadConfig()

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Transaction log
	txLog, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer txLog.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Event bus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rule engine, builtin registry plus persisted expression rules
	ruleEngine := rules.NewEngine()
	if err := loadRuleScripts(ctx, txLog, ruleEngine); err != nil {
		slog.Error("failed to load rule scripts", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	// External risk score provider
	var scorer domain.RiskScorer
	if url := os.Getenv("KESTREL_SCORER_URL"); url != "" {
		scorer = features.NewHTTPScorer(url, cfg.Engine.ScorerTimeout)
		slog.Info("risk scorer configured", "endpoint", url)
	} else {
		scorer = features.NewStubScorer()
		slog.Info("no scorer endpoint configured, using heuristic stub")
	}

	// Optional account risk provider
	var riskProvider domain.AccountRiskProvider
	if url := os.Getenv("KESTREL_ACCOUNT_RISK_URL"); url != "" {
		riskProvider = accountrisk.NewHTTPProvider(url, cfg.Engine.ScorerTimeout)
		slog.Info("account risk provider configured", "endpoint", url)
	}

	collector := metrics.NewCollector()

	orchestrator, err := engine.New(cfg.Engine, engine.Deps{
		Rules:       ruleEngine,
		Behavior:    behavior.NewAnalyzer(),
		Velocity:    velocity.NewAnalyzer(),
		History:     history.NewStore(txLog, cacheImpl, cfg.Engine.HistoryTTL, cfg.Engine.HistoryLimit),
		Dedup:       dedup.NewDetector(cacheImpl, cfg.Engine.DedupWindow, cfg.Engine.DedupBucket),
		Scorer:      scorer,
		AccountRisk: riskProvider,
		Bus:         busImpl,
		Audit:       audit.NewLogWriter(txLog),
		Metrics:     collector,
	})
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}
	slog.Info("engine initialized")

	// Async worker consuming the ingestion topic
	var asyncWorker *worker.Worker
	if os.Getenv("KESTREL_ASYNC_WORKER") != "false" {
		asyncWorker = worker.NewWorker(busImpl, orchestrator)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	srv := api.NewServer(cfg.Server, txLog, cacheImpl, busImpl, orchestrator, collector.Handler(), Version)

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

	<-ctx.Done()
	slog.Info("shutting down...")

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

	slog.Info("kestrel shutdown complete")
}

// loadConfig starts from the single-node defaults and applies
// environment overrides. KESTREL_MODE=cluster switches to the
// postgres/redis/NATS profile before the overrides apply.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_MODE") == "cluster" {
		cfg = domain.ClusterConfig()
		slog.Info("running in cluster mode")
	}

	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}

	return cfg
}

// loadRuleScripts loads persisted expression rules into the engine.
// An empty repository is not an error; rules can be added via the API.
func loadRuleScripts(ctx context.Context, txLog domain.TransactionLog, ruleEngine *rules.Engine) error {
	scripts, err := txLog.ListRuleScripts(ctx)
	if err != nil {
		slog.Warn("failed to list rule scripts", "error", err)
		return nil
	}

	if len(scripts) > 0 {
		slog.Info("loading rule scripts", "count", len(scripts))
		return ruleEngine.ReloadScripts(scripts)
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  Kestrel - fraud risk scoring engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate          - Score a transaction")
	fmt.Println("    GET  /evaluations/{id}  - Get risk score by ID")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /rules             - List expression rules")
	fmt.Println("    POST /rules             - Create an expression rule")
	fmt.Println("    POST /rules/reload      - Hot-reload expression rules")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println()
}
