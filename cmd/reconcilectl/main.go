// Command reconcilectl is the operator CLI: price a payment, run one
// reconciliation cycle, or inspect a transaction. It reads the same
// environment as the API server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/reconciliation-engine/internal/cache"
	"github.com/josh-kwaku/reconciliation-engine/internal/config"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
	"github.com/josh-kwaku/reconciliation-engine/internal/repository"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "reconcilectl",
		Short:         "Operator tooling for the payment reconciliation engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(statusCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	cache    *cache.Cache
	provider *provider.Client
}

// setup loads configuration and the provider client. The cache is always
// in-process; a CLI run is too short for a shared cache to pay off.
func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, "reconcilectl", cfg.LogLevel, cfg.AppEnv)
	slog.SetDefault(logger)

	c := cache.New(cache.NewMemoryStore())
	return &env{
		cfg:    cfg,
		logger: logger,
		cache:  c,
		provider: provider.NewClient(provider.Config{
			BaseURL:        cfg.ProviderURL,
			ClientID:       cfg.ProviderClientID,
			ClientSecret:   cfg.ProviderClientSecret,
			Timeout:        cfg.ProviderTimeout,
			OrderStatusTTL: cfg.OrderStatusTTL,
		}, c),
	}, nil
}

func (e *env) openDB(ctx context.Context) (*sql.DB, error) {
	return repository.NewPostgresDB(ctx, e.cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     e.cfg.PollConcurrency + 2,
		MaxIdleConns:     2,
		ConnMaxLifetimeS: e.cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: e.cfg.DBConnMaxIdleTimeS,
		ConnectAttempts:  1,
	})
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
