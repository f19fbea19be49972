package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/metrics"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
)

// OrderUpdate is a verified provider push for one order.
type OrderUpdate struct {
	OrderID          string
	Status           string
	TxHash           string
	DepositConfirmed bool
	FailureReason    string
	UpdatedAt        time.Time
	Raw              json.RawMessage
}

type IngestResult struct {
	Outcome       domain.WebhookOutcome
	TransactionID uuid.UUID
	Status        domain.TransactionStatus
}

type WebhookIngestor struct {
	store    transactionStore
	receipts receiptLog
	orders   orderCache
	orderTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewWebhookIngestor(store transactionStore, receipts receiptLog, orders orderCache, orderTTL time.Duration, logger *slog.Logger) *WebhookIngestor {
	return &WebhookIngestor{
		store:    store,
		receipts: receipts,
		orders:   orders,
		orderTTL: orderTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest applies a provider push through the rank-guarded update. Unknown
// orders are acknowledged and ignored. Only store failures are returned, so
// the provider retries exactly when the update may not have landed.
func (w *WebhookIngestor) Ingest(ctx context.Context, u OrderUpdate) (*IngestResult, error) {
	log := w.logger.With("stage", "webhook", "external_order_id", u.OrderID, "raw_status", u.Status)
	ctx = logging.WithLogger(ctx, log)

	tx, err := w.store.GetByExternalOrderID(ctx, u.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("webhook for untracked order ignored")
		metrics.StatusUpdates.WithLabelValues("webhook", metrics.OutcomeUntracked).Inc()
		return &IngestResult{Outcome: domain.WebhookOutcomeUntracked}, nil
	}
	if err != nil {
		log.Error("webhook order lookup failed", "error", err, "payload", string(u.Raw))
		metrics.StatusUpdates.WithLabelValues("webhook", metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("Ingest: %w", err)
	}
	log = log.With("transaction_id", tx.ID)

	mapped, known := provider.MapStatus(u.Status)
	if !known {
		log.Warn("unknown provider status mapped to pending", "payload", string(u.Raw))
	}

	receivedAt := w.now().UTC()
	patch := domain.StatusPatch{
		ExternalStatus: &u.Status,
		WebhookAt:      &receivedAt,
		ExternalOrder:  provider.Progression(),
	}
	if u.TxHash != "" {
		patch.TransactionHash = &u.TxHash
	}
	if u.FailureReason != "" {
		patch.FailureReason = &u.FailureReason
	}

	updated, applied, err := w.store.UpdateStatusIfAdvancing(ctx, tx.ID, mapped, patch)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("transaction vanished during webhook ingest")
		metrics.StatusUpdates.WithLabelValues("webhook", metrics.OutcomeUntracked).Inc()
		return &IngestResult{Outcome: domain.WebhookOutcomeUntracked}, nil
	}
	if err != nil {
		log.Error("webhook status update failed", "mapped_status", mapped, "error", err, "payload", string(u.Raw))
		metrics.StatusUpdates.WithLabelValues("webhook", metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("Ingest: %w", err)
	}

	outcome := domain.WebhookOutcomeApplied
	if applied {
		log.Info("webhook status applied", "from_status", tx.Status, "to_status", updated.Status)
		metrics.StatusUpdates.WithLabelValues("webhook", metrics.OutcomeApplied).Inc()
		w.cacheSnapshot(ctx, u)
	} else {
		outcome = domain.WebhookOutcomeStale
		log.Debug("stale webhook ignored", "stored_status", updated.Status, "mapped_status", mapped)
		metrics.StatusUpdates.WithLabelValues("webhook", metrics.OutcomeStale).Inc()
	}

	receipt := &domain.WebhookReceipt{
		ID:              uuid.New(),
		TransactionID:   tx.ID,
		ExternalOrderID: u.OrderID,
		RawStatus:       u.Status,
		MappedStatus:    mapped,
		Outcome:         outcome,
		Payload:         u.Raw,
		ReceivedAt:      receivedAt,
	}
	if err := w.receipts.Append(ctx, receipt); err != nil {
		log.Error("webhook receipt write failed", "error", err)
	}

	return &IngestResult{Outcome: outcome, TransactionID: tx.ID, Status: updated.Status}, nil
}

func (w *WebhookIngestor) cacheSnapshot(ctx context.Context, u OrderUpdate) {
	if w.orders == nil {
		return
	}
	snap := domain.OrderSnapshot{
		OrderID:          u.OrderID,
		Status:           u.Status,
		TxHash:           u.TxHash,
		DepositConfirmed: u.DepositConfirmed,
		FailureReason:    u.FailureReason,
		UpdatedAt:        u.UpdatedAt,
	}
	if err := w.orders.SetOrderStatus(ctx, snap, w.orderTTL); err != nil {
		logging.FromContext(ctx).Warn("order snapshot cache write failed", "error", err)
	}
}
