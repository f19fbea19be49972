package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/fx"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
)

type rateService interface {
	Resolve(ctx context.Context, from, to domain.Currency) (*domain.ExchangeRate, error)
	Estimate(ctx context.Context, from, to domain.Currency, amount decimal.Decimal) (*fx.Conversion, error)
	Currencies(ctx context.Context) ([]domain.CurrencyInfo, error)
}

type RatesHandler struct {
	rates rateService
}

func NewRatesHandler(rates rateService) *RatesHandler {
	return &RatesHandler{rates: rates}
}

type rateResponse struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Rate       decimal.Decimal `json:"rate"`
	Source     string          `json:"source"`
	ValidUntil time.Time       `json:"valid_until"`
}

type estimateResponse struct {
	rateResponse
	Amount          decimal.Decimal `json:"amount"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
}

func toRateResponse(rate *domain.ExchangeRate) rateResponse {
	return rateResponse{
		From:       string(rate.From),
		To:         string(rate.To),
		Rate:       rate.Rate,
		Source:     string(rate.Source),
		ValidUntil: rate.ValidUntil,
	}
}

func (h *RatesHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	from, to, fields := currencyParams(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	rate, err := h.rates.Resolve(r.Context(), from, to)
	if err != nil {
		logging.FromContext(r.Context()).Warn("rate lookup failed", "from", from, "to", to, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toRateResponse(rate))
}

func (h *RatesHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	from, to, fields := currencyParams(r)

	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		fields = append(fields, FieldError{Field: "amount", Message: "must be a decimal string"})
	} else if !amount.IsPositive() {
		fields = append(fields, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	conv, err := h.rates.Estimate(r.Context(), from, to, amount)
	if err != nil {
		logging.FromContext(r.Context()).Warn("rate estimate failed", "from", from, "to", to, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, estimateResponse{
		rateResponse:    toRateResponse(&conv.Rate),
		Amount:          conv.Amount,
		ConvertedAmount: conv.ConvertedAmount,
	})
}

func (h *RatesHandler) Currencies(w http.ResponseWriter, r *http.Request) {
	list, err := h.rates.Currencies(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Warn("currency registry lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, list)
}

func currencyParams(r *http.Request) (domain.Currency, domain.Currency, []FieldError) {
	var errs []FieldError

	from := domain.Currency(r.URL.Query().Get("from")).Normalize()
	if from == "" {
		errs = append(errs, FieldError{Field: "from", Message: "required"})
	} else if !from.IsValid() {
		errs = append(errs, FieldError{Field: "from", Message: "must be a currency ticker"})
	}

	to := domain.Currency(r.URL.Query().Get("to")).Normalize()
	if to == "" {
		errs = append(errs, FieldError{Field: "to", Message: "required"})
	} else if !to.IsValid() {
		errs = append(errs, FieldError{Field: "to", Message: "must be a currency ticker"})
	}

	return from, to, errs
}
