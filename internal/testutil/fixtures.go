package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
)

// NewTransaction builds a pending USD->USD fiat/bank transaction with the
// default fee schedule applied to an amount of 1000.
func NewTransaction() *domain.PaymentTransaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.PaymentTransaction{
		ID:              uuid.New(),
		ClientID:        "client-" + uuid.NewString()[:8],
		SellerID:        "seller-" + uuid.NewString()[:8],
		Amount:          decimal.RequireFromString("1000.00"),
		Currency:        "USD",
		TargetCurrency:  "USD",
		ConvertedAmount: decimal.RequireFromString("1000.00"),
		Fees: domain.Fees{
			BuyerFee:                decimal.RequireFromString("1.00"),
			SellerFee:               decimal.RequireFromString("1.00"),
			ConversionFee:           decimal.Zero,
			ManagementFee:           decimal.RequireFromString("10.00"),
			ManagementFeeBuyerShare: decimal.RequireFromString("5.00"),
		},
		TotalAmount:           decimal.RequireFromString("1006.00"),
		Status:                domain.StatusPending,
		PaymentMethod:         domain.PaymentMethodFiat,
		SettlementMethod:      domain.SettlementMethodBank,
		FeeScheduleVersion:    "default",
		EstimatedSettlementAt: now.Add(72 * time.Hour),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// WithOrder assigns an external order id, making the transaction in flight.
func WithOrder(tx *domain.PaymentTransaction, orderID string) *domain.PaymentTransaction {
	tx.ExternalOrderID = &orderID
	return tx
}

func GetTransactionStatus(t *testing.T, db *sql.DB, id uuid.UUID) domain.TransactionStatus {
	t.Helper()

	var status domain.TransactionStatus
	err := db.QueryRow(`SELECT status FROM payment_transactions WHERE id = $1`, id).Scan(&status)
	if err != nil {
		t.Fatalf("get transaction status %s: %v", id, err)
	}
	return status
}

func CountWebhookReceipts(t *testing.T, db *sql.DB, txID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM webhook_receipts WHERE transaction_id = $1`, txID).Scan(&count)
	if err != nil {
		t.Fatalf("count webhook receipts for %s: %v", txID, err)
	}
	return count
}

func CountRateHistory(t *testing.T, db *sql.DB, from, to domain.Currency) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM rate_history WHERE from_currency = $1 AND to_currency = $2`, from, to).Scan(&count)
	if err != nil {
		t.Fatalf("count rate history %s/%s: %v", from, to, err)
	}
	return count
}
