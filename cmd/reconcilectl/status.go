package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/repository"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <transaction-id | order-id>",
		Short: "Show a transaction and its webhook receipts",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	cmd.Flags().Bool("receipts", true, "Include the webhook receipt log")
	return cmd
}

type statusOutput struct {
	Transaction *domain.PaymentTransaction `json:"transaction"`
	Receipts    []domain.WebhookReceipt    `json:"receipts,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	txRepo := repository.NewTransactionRepository(db)

	var tx *domain.PaymentTransaction
	if id, perr := uuid.Parse(args[0]); perr == nil {
		tx, err = txRepo.GetByID(ctx, id)
	} else {
		tx, err = txRepo.GetByExternalOrderID(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", args[0], err)
	}

	out := statusOutput{Transaction: tx}
	if withReceipts, _ := cmd.Flags().GetBool("receipts"); withReceipts {
		out.Receipts, err = repository.NewWebhookReceiptRepository(db).ListByTransaction(ctx, tx.ID)
		if err != nil {
			return err
		}
	}

	if jsonOutput(cmd) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Transaction %s\n", tx.ID)
	fmt.Printf("  client/seller:    %s / %s\n", tx.ClientID, tx.SellerID)
	fmt.Printf("  amount:           %s %s -> %s %s\n", tx.Amount, tx.Currency, tx.ConvertedAmount, tx.TargetCurrency)
	fmt.Printf("  total charged:    %s %s\n", tx.TotalAmount, tx.Currency)
	fmt.Printf("  status:           %s (provider: %s)\n", tx.Status, deref(tx.ExternalStatus))
	fmt.Printf("  order id:         %s\n", deref(tx.ExternalOrderID))
	fmt.Printf("  settles by:       %s\n", tx.EstimatedSettlementAt.Format(time.RFC3339))
	fmt.Printf("  last webhook:     %s\n", formatTime(tx.LastWebhookAt))
	fmt.Printf("  last poll:        %s\n", formatTime(tx.LastPollAt))
	if tx.FailureReason != nil {
		fmt.Printf("  failure reason:   %s\n", *tx.FailureReason)
	}
	if tx.TransactionHash != nil {
		fmt.Printf("  tx hash:          %s\n", *tx.TransactionHash)
	}

	if len(out.Receipts) > 0 {
		fmt.Println("\nWebhook receipts:")
		for _, rc := range out.Receipts {
			fmt.Printf("  %s  %-20s %s\n", rc.ReceivedAt.Format(time.RFC3339), rc.RawStatus, rc.Outcome)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
