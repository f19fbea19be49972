package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/service"
	"github.com/josh-kwaku/reconciliation-engine/internal/service/payment"
)

type statusUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, meta payment.StatusOverride) (*domain.PaymentTransaction, bool, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
}

type reconciler interface {
	RunOnce(ctx context.Context) (*service.CycleReport, error)
	Stats() service.PollerStats
}

type AdminHandler struct {
	payments statusUpdater
	poller   reconciler
}

func NewAdminHandler(payments statusUpdater, poller reconciler) *AdminHandler {
	return &AdminHandler{payments: payments, poller: poller}
}

type updateStatusRequest struct {
	Status          string  `json:"status"`
	FailureReason   *string `json:"failure_reason"`
	TransactionHash *string `json:"transaction_hash"`
	BankReference   *string `json:"bank_reference"`
}

func (r updateStatusRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Status == "" {
		errs = append(errs, FieldError{Field: "status", Message: "required"})
	} else if !domain.TransactionStatus(r.Status).IsValid() {
		errs = append(errs, FieldError{Field: "status", Message: "must be pending, processing, completed, failed, or cancelled"})
	}
	return errs
}

type updateStatusResponse struct {
	Applied     bool           `json:"applied"`
	Transaction transactionDTO `json:"transaction"`
}

// GetPayment returns any transaction regardless of the owning client.
func (h *AdminHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	tx, err := h.payments.GetStatus(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toTransactionDTO(tx))
}

// UpdateStatus answers 200 for stale overrides too; the body reports
// whether the change was applied and the status the transaction holds.
func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	tx, applied, err := h.payments.UpdateStatus(r.Context(), id, domain.TransactionStatus(req.Status), payment.StatusOverride{
		FailureReason:   req.FailureReason,
		TransactionHash: req.TransactionHash,
		BankReference:   req.BankReference,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("status override failed", "transaction_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, updateStatusResponse{
		Applied:     applied,
		Transaction: toTransactionDTO(tx),
	})
}

func (h *AdminHandler) ReconciliationStats(w http.ResponseWriter, r *http.Request) {
	RespondSuccess(w, http.StatusOK, h.poller.Stats())
}

func (h *AdminHandler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.poller.RunOnce(r.Context())
	if err != nil {
		if !errors.Is(err, domain.ErrPollInProgress) {
			logging.FromContext(r.Context()).Error("manual reconciliation cycle failed", "error", err)
		}
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, report)
}
