package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/service"
)

const maxWebhookBody = 1 << 20

type webhookIngestor interface {
	Ingest(ctx context.Context, u service.OrderUpdate) (*service.IngestResult, error)
}

type WebhookHandler struct {
	ingestor webhookIngestor
	secret   string
}

// NewWebhookHandler with an empty secret accepts unsigned pushes.
func NewWebhookHandler(ingestor webhookIngestor, secret string) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, secret: secret}
}

type orderUpdatePayload struct {
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	TxHash           string `json:"tx_hash,omitempty"`
	DepositConfirmed bool   `json:"deposit_confirmed,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
	UpdatedAt        string `json:"updated_at"`
}

func (p orderUpdatePayload) validate() ([]FieldError, time.Time) {
	var errs []FieldError
	var updatedAt time.Time

	if strings.TrimSpace(p.OrderID) == "" {
		errs = append(errs, FieldError{Field: "order_id", Message: "required"})
	}
	if strings.TrimSpace(p.Status) == "" {
		errs = append(errs, FieldError{Field: "status", Message: "required"})
	}
	if p.UpdatedAt == "" {
		errs = append(errs, FieldError{Field: "updated_at", Message: "required"})
	} else if t, err := time.Parse(time.RFC3339Nano, p.UpdatedAt); err != nil {
		errs = append(errs, FieldError{Field: "updated_at", Message: "must be an RFC 3339 timestamp"})
	} else {
		updatedAt = t.UTC()
	}

	return errs, updatedAt
}

type webhookAck struct {
	Outcome string `json:"outcome"`
	Status  string `json:"status,omitempty"`
}

func (h *WebhookHandler) ReceiveOrderUpdate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context()).With("stage", "webhook")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if h.secret == "" {
		log.Debug("webhook signature check skipped, no secret configured")
	} else if !verifyHMAC(body, r.Header.Get("X-Signature"), h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload orderUpdatePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse webhook payload", "error", err, "payload", string(body))
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	fields, updatedAt := payload.validate()
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), service.OrderUpdate{
		OrderID:          strings.TrimSpace(payload.OrderID),
		Status:           payload.Status,
		TxHash:           payload.TxHash,
		DepositConfirmed: payload.DepositConfirmed,
		FailureReason:    payload.FailureReason,
		UpdatedAt:        updatedAt,
		Raw:              body,
	})
	if err != nil {
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	RespondSuccess(w, http.StatusOK, webhookAck{
		Outcome: string(res.Outcome),
		Status:  string(res.Status),
	})
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
