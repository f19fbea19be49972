package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
)

type transactionStore interface {
	GetByExternalOrderID(ctx context.Context, orderID string) (*domain.PaymentTransaction, error)
	UpdateStatusIfAdvancing(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, patch domain.StatusPatch) (*domain.PaymentTransaction, bool, error)
	ListInFlight(ctx context.Context, limit int) ([]domain.PaymentTransaction, error)
	TouchPolled(ctx context.Context, id uuid.UUID, at time.Time) error
}

type receiptLog interface {
	Append(ctx context.Context, rc *domain.WebhookReceipt) error
}

type orderSource interface {
	OrderStatus(ctx context.Context, orderID string) (*domain.OrderSnapshot, error)
}

type orderCache interface {
	SetOrderStatus(ctx context.Context, snap domain.OrderSnapshot, ttl time.Duration) error
}
