package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josh-kwaku/reconciliation-engine/internal/auth"
	"github.com/josh-kwaku/reconciliation-engine/internal/cache"
	"github.com/josh-kwaku/reconciliation-engine/internal/config"
	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/fees"
	"github.com/josh-kwaku/reconciliation-engine/internal/fx"
	"github.com/josh-kwaku/reconciliation-engine/internal/handler"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
	"github.com/josh-kwaku/reconciliation-engine/internal/repository"
	"github.com/josh-kwaku/reconciliation-engine/internal/router"
	"github.com/josh-kwaku/reconciliation-engine/internal/service"
	"github.com/josh-kwaku/reconciliation-engine/internal/service/payment"
)

const idempotencySweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("reconciliation-engine", cfg.LogLevel, cfg.AppEnv)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		ConnectAttempts:  cfg.DBConnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	var (
		store     cache.Store
		readiness *handler.HealthHandler
	)
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		rs := cache.NewRedisStore(client, "recon")
		store = rs
		readiness = handler.NewHealthHandler(db, rs)
		logger.Info("cache backend: redis")
	} else {
		store = cache.NewMemoryStore()
		readiness = handler.NewHealthHandler(db, nil)
		logger.Info("cache backend: memory")
	}
	c := cache.New(store)

	clients, err := auth.ParseClients(cfg.APIClients)
	if err != nil {
		return fmt.Errorf("api clients: %w", err)
	}
	if clients.Len() == 0 {
		logger.Warn("no API_CLIENTS configured, token issuance will reject every request")
	}

	schedule, err := cfg.FeeSchedule()
	if err != nil {
		return err
	}
	calculator, err := fees.NewCalculator(schedule)
	if err != nil {
		return err
	}

	var table *fx.FiatTable
	if cfg.FiatRatesFile != "" {
		if table, err = fx.LoadFiatTable(cfg.FiatRatesFile); err != nil {
			return fmt.Errorf("fiat rates: %w", err)
		}
	}

	providerClient := provider.NewClient(provider.Config{
		BaseURL:        cfg.ProviderURL,
		ClientID:       cfg.ProviderClientID,
		ClientSecret:   cfg.ProviderClientSecret,
		Timeout:        cfg.ProviderTimeout,
		OrderStatusTTL: cfg.OrderStatusTTL,
	}, c)

	txRepo := repository.NewTransactionRepository(db)
	receipts := repository.NewWebhookReceiptRepository(db)
	history := repository.NewRateHistoryRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	resolver, err := fx.NewResolver(providerClient, c, history, fx.Options{
		StableAsset:   domain.Currency(cfg.StableAsset),
		ReferenceFiat: domain.Currency(cfg.ReferenceFiat),
		FiatTable:     table,
	})
	if err != nil {
		return err
	}

	payments := payment.NewService(txRepo, resolver, providerClient, calculator)
	ingestor := service.NewWebhookIngestor(txRepo, receipts, c, cfg.OrderStatusTTL, logger)
	poller := service.NewPoller(txRepo, providerClient, service.PollerConfig{
		Interval:    cfg.PollInterval,
		CallDelay:   cfg.PollCallDelay,
		CallTimeout: cfg.PollCallTimeout,
		Concurrency: cfg.PollConcurrency,
		BatchSize:   cfg.PollBatchSize,
	}, logger)

	if cfg.InsecureWebhooks() {
		logger.Warn("WEBHOOK_SECRET is empty, webhook signatures will not be verified")
	}

	h := router.New(router.Handlers{
		Health:   readiness,
		Auth:     handler.NewAuthHandler(clients, cfg.JWTSecret, cfg.JWTTTL),
		Payments: handler.NewPaymentHandler(payments),
		Rates:    handler.NewRatesHandler(resolver),
		Webhooks: handler.NewWebhookHandler(ingestor, cfg.WebhookSecret),
		Admin:    handler.NewAdminHandler(payments, poller),
	}, router.Options{
		JWTSecret:      cfg.JWTSecret,
		Idempotency:    idempotency,
		IdempotencyTTL: cfg.IdempotencyTTL,
		AllowedOrigins: cfg.CORSOrigins,
	})

	go poller.Start(ctx)
	go sweepIdempotency(ctx, idempotency, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.PollCallTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func sweepIdempotency(ctx context.Context, repo *repository.IdempotencyRepository, logger *slog.Logger) {
	ticker := time.NewTicker(idempotencySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanExpired(ctx)
			if err != nil {
				logger.Warn("idempotency sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("idempotency sweep", "deleted", n)
			}
		}
	}
}
