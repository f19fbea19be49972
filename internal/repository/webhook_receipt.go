package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
)

const webhookReceiptColumns = `id, transaction_id, external_order_id, raw_status,
	mapped_status, outcome, payload, received_at`

type WebhookReceiptRepository struct {
	db *sql.DB
}

func NewWebhookReceiptRepository(db *sql.DB) *WebhookReceiptRepository {
	return &WebhookReceiptRepository{db: db}
}

func (r *WebhookReceiptRepository) Append(ctx context.Context, rc *domain.WebhookReceipt) error {
	payload := string(rc.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_receipts (`+webhookReceiptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rc.ID, rc.TransactionID, rc.ExternalOrderID, rc.RawStatus,
		rc.MappedStatus, rc.Outcome, payload, rc.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

func (r *WebhookReceiptRepository) ListByTransaction(ctx context.Context, txID uuid.UUID) ([]domain.WebhookReceipt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookReceiptColumns+` FROM webhook_receipts
		WHERE transaction_id = $1 ORDER BY received_at, id`,
		txID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByTransaction: %w", err)
	}
	defer rows.Close()

	var receipts []domain.WebhookReceipt
	for rows.Next() {
		rc, err := scanWebhookReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByTransaction: scan: %w", err)
		}
		receipts = append(receipts, *rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByTransaction: rows: %w", err)
	}
	return receipts, nil
}

func scanWebhookReceipt(s scanner) (*domain.WebhookReceipt, error) {
	var rc domain.WebhookReceipt
	var payload []byte
	err := s.Scan(
		&rc.ID, &rc.TransactionID, &rc.ExternalOrderID, &rc.RawStatus,
		&rc.MappedStatus, &rc.Outcome, &payload, &rc.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	rc.Payload = payload
	return &rc, nil
}
