package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/metrics"
)

// StatusOverride is the metadata an operator may attach to a manual update.
type StatusOverride struct {
	FailureReason   *string
	TransactionHash *string
	BankReference   *string
}

// UpdateStatus applies an operator override through the same rank guard as
// the webhook and poller. A stale override is not an error: the current
// transaction is returned with applied set to false.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, meta StatusOverride) (*domain.PaymentTransaction, bool, error) {
	if !status.IsValid() {
		return nil, false, fmt.Errorf("UpdateStatus: %q: %w", status, domain.ErrInvalidStatus)
	}

	tx, applied, err := s.transactions.UpdateStatusIfAdvancing(ctx, id, status, domain.StatusPatch{
		FailureReason:   meta.FailureReason,
		TransactionHash: meta.TransactionHash,
		BankReference:   meta.BankReference,
	})
	if err != nil {
		metrics.StatusUpdates.WithLabelValues("admin", metrics.OutcomeError).Inc()
		return nil, false, fmt.Errorf("UpdateStatus: %w", err)
	}

	log := logging.FromContext(ctx).With("stage", "admin", "transaction_id", id)
	if applied {
		metrics.StatusUpdates.WithLabelValues("admin", metrics.OutcomeApplied).Inc()
		log.Info("status override applied", "status", tx.Status)
	} else {
		metrics.StatusUpdates.WithLabelValues("admin", metrics.OutcomeStale).Inc()
		log.Debug("status override ignored", "requested", status, "current", tx.Status)
	}
	return tx, applied, nil
}
