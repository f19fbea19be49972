package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/reconciliation-engine/internal/repository"
	"github.com/josh-kwaku/reconciliation-engine/internal/service"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single poll cycle over in-flight transactions",
		Long: `Fetches every in-flight transaction, asks the provider for its order
status and applies the rank-guarded update, exactly as one tick of the
server's poller. Safe to run while the server is up.`,
		Args: cobra.NoArgs,
		RunE: runReconcile,
	}
	cmd.Flags().Int("concurrency", 0, "Parallel provider lookups (defaults to POLL_CONCURRENCY)")
	cmd.Flags().Int("batch", 0, "Maximum transactions to check (defaults to POLL_BATCH_SIZE)")
	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	db, err := e.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	pc := service.PollerConfig{
		CallDelay:   e.cfg.PollCallDelay,
		CallTimeout: e.cfg.PollCallTimeout,
		Concurrency: e.cfg.PollConcurrency,
		BatchSize:   e.cfg.PollBatchSize,
	}
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		pc.Concurrency = n
	}
	if n, _ := cmd.Flags().GetInt("batch"); n > 0 {
		pc.BatchSize = n
	}

	poller := service.NewPoller(repository.NewTransactionRepository(db), e.provider, pc, e.logger)
	report, err := poller.RunOnce(ctx)
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return json.NewEncoder(os.Stdout).Encode(report)
	}
	fmt.Printf("checked %d: %d updated, %d unchanged, %d stale, %d failed\n",
		report.Checked, report.Updated, report.Unchanged, report.Stale, report.Failed)
	if stats := poller.Stats(); stats.LastError != "" {
		fmt.Printf("last error: %s\n", stats.LastError)
	}
	return nil
}
