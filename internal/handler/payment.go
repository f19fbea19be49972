package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/reconciliation-engine/internal/auth"
	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/service/payment"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type paymentService interface {
	ProcessPayment(ctx context.Context, req payment.ProcessRequest) (*payment.PaymentResponse, error)
	InitiateSettlement(ctx context.Context, id uuid.UUID, clientID, recipient string) (*domain.PaymentTransaction, error)
	GetForClient(ctx context.Context, id uuid.UUID, clientID string) (*domain.PaymentTransaction, error)
	List(ctx context.Context, clientID string, limit, offset int) ([]domain.PaymentTransaction, int, error)
}

type PaymentHandler struct {
	payments paymentService
}

func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type createPaymentRequest struct {
	SellerID         string `json:"seller_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	TargetCurrency   string `json:"target_currency"`
	PaymentMethod    string `json:"payment_method"`
	SettlementMethod string `json:"settlement_method"`
	Recipient        string `json:"recipient"`
}

func (r createPaymentRequest) Validate() []FieldError {
	var errs []FieldError

	if r.SellerID == "" {
		errs = append(errs, FieldError{Field: "seller_id", Message: "required"})
	}

	if r.Amount == "" {
		errs = append(errs, FieldError{Field: "amount", Message: "required"})
	} else if d, err := decimal.NewFromString(r.Amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: "must be a decimal string"})
	} else if !d.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).Normalize().IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be a currency ticker"})
	}

	if r.TargetCurrency == "" {
		errs = append(errs, FieldError{Field: "target_currency", Message: "required"})
	} else if !domain.Currency(r.TargetCurrency).Normalize().IsValid() {
		errs = append(errs, FieldError{Field: "target_currency", Message: "must be a currency ticker"})
	}

	if !domain.PaymentMethod(r.PaymentMethod).IsValid() {
		errs = append(errs, FieldError{Field: "payment_method", Message: "must be fiat or crypto"})
	}

	if !domain.SettlementMethod(r.SettlementMethod).IsValid() {
		errs = append(errs, FieldError{Field: "settlement_method", Message: "must be bank or blockchain"})
	}

	return errs
}

type initiateRequest struct {
	Recipient string `json:"recipient"`
}

type feesDTO struct {
	BuyerFee                 decimal.Decimal `json:"buyer_fee"`
	SellerFee                decimal.Decimal `json:"seller_fee"`
	ConversionFee            decimal.Decimal `json:"conversion_fee"`
	ManagementFee            decimal.Decimal `json:"management_fee"`
	ManagementFeeBuyerShare  decimal.Decimal `json:"management_fee_buyer_share"`
	ManagementFeeSellerShare decimal.Decimal `json:"management_fee_seller_share"`
}

type transactionDTO struct {
	ID                    uuid.UUID        `json:"id"`
	SellerID              string           `json:"seller_id"`
	Amount                decimal.Decimal  `json:"amount"`
	Currency              string           `json:"currency"`
	TargetCurrency        string           `json:"target_currency"`
	ConversionRate        *decimal.Decimal `json:"conversion_rate"`
	ConvertedAmount       decimal.Decimal  `json:"converted_amount"`
	Fees                  feesDTO          `json:"fees"`
	TotalAmount           decimal.Decimal  `json:"total_amount"`
	Status                string           `json:"status"`
	PaymentMethod         string           `json:"payment_method"`
	SettlementMethod      string           `json:"settlement_method"`
	FeeScheduleVersion    string           `json:"fee_schedule_version"`
	ExternalOrderID       *string          `json:"external_order_id,omitempty"`
	ExternalStatus        *string          `json:"external_status,omitempty"`
	FailureReason         *string          `json:"failure_reason,omitempty"`
	TransactionHash       *string          `json:"transaction_hash,omitempty"`
	BankReference         *string          `json:"bank_reference,omitempty"`
	EstimatedSettlementAt time.Time        `json:"estimated_settlement_at"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	CompletedAt           *time.Time       `json:"completed_at,omitempty"`
	LastWebhookAt         *time.Time       `json:"last_webhook_at,omitempty"`
	LastPollAt            *time.Time       `json:"last_poll_at,omitempty"`
}

func toTransactionDTO(t *domain.PaymentTransaction) transactionDTO {
	return transactionDTO{
		ID:              t.ID,
		SellerID:        t.SellerID,
		Amount:          t.Amount,
		Currency:        string(t.Currency),
		TargetCurrency:  string(t.TargetCurrency),
		ConversionRate:  t.ConversionRate,
		ConvertedAmount: t.ConvertedAmount,
		Fees: feesDTO{
			BuyerFee:                 t.Fees.BuyerFee,
			SellerFee:                t.Fees.SellerFee,
			ConversionFee:            t.Fees.ConversionFee,
			ManagementFee:            t.Fees.ManagementFee,
			ManagementFeeBuyerShare:  t.Fees.ManagementFeeBuyerShare,
			ManagementFeeSellerShare: t.Fees.ManagementFeeSellerShare(),
		},
		TotalAmount:           t.TotalAmount,
		Status:                string(t.Status),
		PaymentMethod:         string(t.PaymentMethod),
		SettlementMethod:      string(t.SettlementMethod),
		FeeScheduleVersion:    t.FeeScheduleVersion,
		ExternalOrderID:       t.ExternalOrderID,
		ExternalStatus:        t.ExternalStatus,
		FailureReason:         t.FailureReason,
		TransactionHash:       t.TransactionHash,
		BankReference:         t.BankReference,
		EstimatedSettlementAt: t.EstimatedSettlementAt,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
		CompletedAt:           t.CompletedAt,
		LastWebhookAt:         t.LastWebhookAt,
		LastPollAt:            t.LastPollAt,
	}
}

type paymentResponseDTO struct {
	Transaction         transactionDTO  `json:"transaction"`
	BuyerSideFee        decimal.Decimal `json:"buyer_side_fee"`
	SellerSideFee       decimal.Decimal `json:"seller_side_fee"`
	SellerPayout        decimal.Decimal `json:"seller_payout"`
	RateSource          string          `json:"rate_source,omitempty"`
	SettlementInitiated bool            `json:"settlement_initiated"`
}

type transactionListDTO struct {
	Items  []transactionDTO `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	clientID, ok := auth.ClientIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	resp, err := h.payments.ProcessPayment(r.Context(), payment.ProcessRequest{
		ClientID:         clientID,
		SellerID:         req.SellerID,
		Amount:           decimal.RequireFromString(req.Amount),
		Currency:         domain.Currency(req.Currency),
		TargetCurrency:   domain.Currency(req.TargetCurrency),
		PaymentMethod:    domain.PaymentMethod(req.PaymentMethod),
		SettlementMethod: domain.SettlementMethod(req.SettlementMethod),
		Recipient:        req.Recipient,
	})
	if err != nil {
		log.Warn("payment creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", resp.Transaction.ID))
	RespondSuccess(w, http.StatusCreated, paymentResponseDTO{
		Transaction:         toTransactionDTO(resp.Transaction),
		BuyerSideFee:        resp.Charges.BuyerSideFee,
		SellerSideFee:       resp.Charges.SellerSideFee,
		SellerPayout:        resp.Charges.SellerPayout,
		RateSource:          string(resp.RateSource),
		SettlementInitiated: resp.SettlementInitiated,
	})
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	clientID, ok := auth.ClientIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	tx, err := h.payments.GetForClient(r.Context(), id, clientID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toTransactionDTO(tx))
}

func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	clientID, ok := auth.ClientIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	limit, offset, fields := parsePage(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	txs, total, err := h.payments.List(r.Context(), clientID, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment list failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	items := make([]transactionDTO, 0, len(txs))
	for i := range txs {
		items = append(items, toTransactionDTO(&txs[i]))
	}
	RespondSuccess(w, http.StatusOK, transactionListDTO{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Initiate retries settlement for a transaction whose provider order was
// never created.
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	clientID, ok := auth.ClientIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req initiateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondAppError(w, ErrInvalidRequest, nil)
			return
		}
	}

	tx, err := h.payments.InitiateSettlement(r.Context(), id, clientID, req.Recipient)
	if err != nil {
		logging.FromContext(r.Context()).Warn("settlement initiation failed", "transaction_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toTransactionDTO(tx))
}

func parsePage(r *http.Request) (int, int, []FieldError) {
	var errs []FieldError
	limit, offset := defaultPageLimit, 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageLimit {
			errs = append(errs, FieldError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxPageLimit)})
		} else {
			limit = n
		}
	}

	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, FieldError{Field: "offset", Message: "must be 0 or greater"})
		} else {
			offset = n
		}
	}

	return limit, offset, errs
}
