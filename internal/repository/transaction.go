package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
)

const transactionColumns = `id, client_id, seller_id, amount, currency, target_currency,
	conversion_rate, converted_amount, buyer_fee, seller_fee, conversion_fee,
	management_fee, management_fee_buyer_share, total_amount, status,
	payment_method, settlement_method, fee_schedule_version, external_order_id,
	external_status, failure_reason, transaction_hash, bank_reference,
	estimated_settlement_at, created_at, updated_at, completed_at,
	last_webhook_at, last_poll_at`

const uniqueViolation = "23505"

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a new transaction. The stored status is always pending
// regardless of what the caller set.
func (r *TransactionRepository) Create(ctx context.Context, t *domain.PaymentTransaction) error {
	t.Status = domain.StatusPending
	t.CompletedAt = nil

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_transactions (
			id, client_id, seller_id, amount, currency, target_currency,
			conversion_rate, converted_amount, buyer_fee, seller_fee, conversion_fee,
			management_fee, management_fee_buyer_share, total_amount, status, status_rank,
			payment_method, settlement_method, fee_schedule_version, external_order_id,
			estimated_settlement_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)`,
		t.ID, t.ClientID, t.SellerID, t.Amount, t.Currency, t.TargetCurrency,
		nullDecimal(t.ConversionRate), t.ConvertedAmount, t.Fees.BuyerFee, t.Fees.SellerFee, t.Fees.ConversionFee,
		t.Fees.ManagementFee, t.Fees.ManagementFeeBuyerShare, t.TotalAmount, t.Status, t.Status.Rank(),
		t.PaymentMethod, t.SettlementMethod, t.FeeScheduleVersion, t.ExternalOrderID,
		t.EstimatedSettlementAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrOrderAlreadyAssigned)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) GetByExternalOrderID(ctx context.Context, orderID string) (*domain.PaymentTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE external_order_id = $1`, orderID,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByExternalOrderID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByExternalOrderID: %w", err)
	}
	return t, nil
}

// UpdateStatusIfAdvancing applies status and patch in one conditional
// statement, only when the new status does not regress rank and the row is
// not already terminal. applied=false with a nil error means the update was
// stale and the returned transaction is the unchanged stored row.
//
// Set-once fields (transaction_hash, bank_reference, completed_at) keep their
// first value. external_status, failure_reason and the channel timestamps
// take the newest non-null value, except that a same-rank external_status
// earlier in patch.ExternalOrder than the stored one is dropped. updated_at
// moves only when rank advances.
func (r *TransactionRepository) UpdateStatusIfAdvancing(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, patch domain.StatusPatch) (*domain.PaymentTransaction, bool, error) {
	if !status.IsValid() {
		return nil, false, fmt.Errorf("UpdateStatusIfAdvancing: %q: %w", status, domain.ErrInvalidStatus)
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE payment_transactions SET
			status           = $2,
			status_rank      = $3,
			updated_at       = CASE WHEN status_rank < $3 THEN now() ELSE updated_at END,
			completed_at     = CASE WHEN $2::text = 'completed' THEN COALESCE(completed_at, now()) ELSE completed_at END,
			external_status  = CASE
				WHEN status_rank = $3
					AND array_position($10::text[], lower($4::text)) < array_position($10::text[], lower(external_status))
				THEN external_status
				ELSE COALESCE($4, external_status)
			END,
			failure_reason   = COALESCE($5, failure_reason),
			transaction_hash = COALESCE(transaction_hash, $6),
			bank_reference   = COALESCE(bank_reference, $7),
			last_webhook_at  = COALESCE($8, last_webhook_at),
			last_poll_at     = COALESCE($9, last_poll_at)
		WHERE id = $1 AND status_rank <= $3 AND status_rank < 2
		RETURNING `+transactionColumns,
		id, status, status.Rank(),
		patch.ExternalStatus, patch.FailureReason, patch.TransactionHash, patch.BankReference,
		patch.WebhookAt, patch.PollAt, pq.Array(patch.ExternalOrder),
	)
	t, err := scanTransaction(row)
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("UpdateStatusIfAdvancing: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("UpdateStatusIfAdvancing: %w", err)
	}
	return current, false, nil
}

// ListInFlight returns transactions with an assigned order that have not yet
// reached a terminal status, least recently polled first.
func (r *TransactionRepository) ListInFlight(ctx context.Context, limit int) ([]domain.PaymentTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions
		WHERE external_order_id IS NOT NULL AND status_rank < 2
		ORDER BY last_poll_at NULLS FIRST, created_at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListInFlight: %w", err)
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("ListInFlight: %w", err)
	}
	return txs, nil
}

func (r *TransactionRepository) ListByClient(ctx context.Context, clientID string, limit, offset int) ([]domain.PaymentTransaction, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_transactions WHERE client_id = $1`, clientID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByClient: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		clientID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByClient: %w", err)
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByClient: %w", err)
	}
	return txs, total, nil
}

// SetExternalOrderID assigns the provider order once. Re-assigning the same
// order is a no-op; a different order is rejected.
func (r *TransactionRepository) SetExternalOrderID(ctx context.Context, id uuid.UUID, orderID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_transactions SET external_order_id = $2
		WHERE id = $1 AND external_order_id IS NULL`,
		id, orderID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("SetExternalOrderID: %s: %w", orderID, domain.ErrOrderAlreadyAssigned)
		}
		return fmt.Errorf("SetExternalOrderID: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SetExternalOrderID: rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var existing sql.NullString
	err = r.db.QueryRowContext(ctx,
		`SELECT external_order_id FROM payment_transactions WHERE id = $1`, id,
	).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("SetExternalOrderID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("SetExternalOrderID: probe: %w", err)
	}
	if existing.String == orderID {
		return nil
	}
	return fmt.Errorf("SetExternalOrderID: has %s: %w", existing.String, domain.ErrOrderAlreadyAssigned)
}

// TouchPolled records that the poller looked at the transaction, whether or
// not the status changed.
func (r *TransactionRepository) TouchPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_transactions SET last_poll_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("TouchPolled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("TouchPolled: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("TouchPolled: %w", domain.ErrNotFound)
	}
	return nil
}

func scanTransactions(rows *sql.Rows) ([]domain.PaymentTransaction, error) {
	var txs []domain.PaymentTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return txs, nil
}

func scanTransaction(s scanner) (*domain.PaymentTransaction, error) {
	var t domain.PaymentTransaction
	var rate decimal.NullDecimal

	err := s.Scan(
		&t.ID, &t.ClientID, &t.SellerID, &t.Amount, &t.Currency, &t.TargetCurrency,
		&rate, &t.ConvertedAmount, &t.Fees.BuyerFee, &t.Fees.SellerFee, &t.Fees.ConversionFee,
		&t.Fees.ManagementFee, &t.Fees.ManagementFeeBuyerShare, &t.TotalAmount, &t.Status,
		&t.PaymentMethod, &t.SettlementMethod, &t.FeeScheduleVersion, &t.ExternalOrderID,
		&t.ExternalStatus, &t.FailureReason, &t.TransactionHash, &t.BankReference,
		&t.EstimatedSettlementAt, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
		&t.LastWebhookAt, &t.LastPollAt,
	)
	if err != nil {
		return nil, err
	}

	if rate.Valid {
		t.ConversionRate = &rate.Decimal
	}
	return &t, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
