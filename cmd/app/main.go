// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gpt-subscription-orchestrator/internal/config"
	"gpt-subscription-orchestrator/internal/domain/ports/adapter"
	pg "gpt-subscription-orchestrator/internal/infra/db/postgres"
	opshttp "gpt-subscription-orchestrator/internal/infra/http"
	"gpt-subscription-orchestrator/internal/infra/logging"
	"gpt-subscription-orchestrator/internal/infra/metrics"
	"gpt-subscription-orchestrator/internal/infra/notify"
	red "gpt-subscription-orchestrator/internal/infra/redis"
	"gpt-subscription-orchestrator/internal/infra/sched"
	"gpt-subscription-orchestrator/internal/infra/security"
	"gpt-subscription-orchestrator/internal/infra/upstream"
	"gpt-subscription-orchestrator/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "development mode (console logs, log notifier)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Encryption ----
	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 32 {
		logger.Warn().Msg("security.encryption_key not set or not 32 bytes; falling back to dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	encSvc, err := security.NewEncryptionService(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	// ---- Repositories ----
	keyRepo := pg.NewKeyRepo(pool)
	sessionRepo := pg.NewSessionRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Notifier ----
	var notifier adapter.Notifier
	if cfg.Notify.Telegram.Token != "" && !cfg.Runtime.Dev {
		notifier, err = notify.NewTelegramNotifier(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier")
		}
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	// ---- Upstream client ----
	activator := upstream.NewClient(upstream.Options{
		BaseURL:      cfg.Upstream.BaseURL,
		Token:        cfg.Upstream.Token,
		Timeout:      cfg.Upstream.Timeout,
		PollInterval: cfg.Upstream.PollInterval,
		MaxPolls:     cfg.Upstream.MaxPolls,
		RateLimit:    cfg.Upstream.RateLimit,
		RateWindow:   cfg.Upstream.RateWindow,
	}, rateLimiter, logger)

	// ---- Use cases ----
	keyPool := usecase.NewKeyPoolUseCase(keyRepo, cfg.Sweep.KeyLowWater, logger)
	sessions := usecase.NewSessionUseCase(sessionRepo, subRepo, encSvc, logger)
	ledger := usecase.NewLedgerUseCase(subRepo, keyRepo, logger)
	orchestrator := usecase.NewOrchestratorUseCase(ledger, keyPool, sessions, activator, notifier, locker, txManager, cfg.Sweep.Workers, logger)

	// ---- Workers ----
	sweepWorker := sched.NewSweepWorker(cfg.Sweep.Interval, orchestrator, logger)
	sessionWorker := sched.NewSessionCheckWorker(cfg.Sweep.SessionCheckInterval, sessions, logger)
	reconcileWorker := sched.NewReconcileWorker(cfg.Sweep.ReconcileInterval, ledger, keyPool, logger)

	var workers sync.WaitGroup
	workers.Add(3)
	go func() { defer workers.Done(); _ = sweepWorker.Run(ctx) }()
	go func() { defer workers.Done(); _ = sessionWorker.Run(ctx) }()
	go func() { defer workers.Done(); _ = reconcileWorker.Run(ctx) }()

	// ---- Ops server ----
	opsServer := opshttp.NewServer(cfg, orchestrator, keyPool, ledger, logger)
	go func() {
		if err := opsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("ops server stopped")
		}
	}()

	logger.Info().Msg("orchestrator started")

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ops server shutdown")
	}
	// Let in-flight rounds finish their bookkeeping before the process goes
	// away; exiting mid-round would strand claimed keys.
	workers.Wait()
	logger.Info().Msg("workers drained")
}
