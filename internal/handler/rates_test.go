package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/fx"
)

type mockRates struct {
	err  error
	from domain.Currency
}

func (m *mockRates) Resolve(_ context.Context, from, to domain.Currency) (*domain.ExchangeRate, error) {
	m.from = from
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ExchangeRate{
		From:       from,
		To:         to,
		Rate:       decimal.RequireFromString("0.92"),
		Source:     domain.RateSourceStaticTable,
		ValidUntil: time.Now().Add(time.Minute),
	}, nil
}

func (m *mockRates) Estimate(ctx context.Context, from, to domain.Currency, amount decimal.Decimal) (*fx.Conversion, error) {
	rate, err := m.Resolve(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &fx.Conversion{
		From:            from,
		To:              to,
		Amount:          amount,
		ConvertedAmount: amount.Mul(rate.Rate).Round(2),
		Rate:            *rate,
	}, nil
}

func (m *mockRates) Currencies(_ context.Context) ([]domain.CurrencyInfo, error) {
	return []domain.CurrencyInfo{{Ticker: "BTC", Network: "btc", Kind: domain.CurrencyKindCrypto}}, m.err
}

func TestRatesHandler_GetRate(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"resolved", "?from=usd&to=EUR", nil, http.StatusOK, ""},
		{"missing params", "", nil, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unsupported pair", "?from=USD&to=XYZ", fmt.Errorf("Resolve: %w", domain.ErrUnsupportedCurrencyPair), http.StatusUnprocessableEntity, "UNSUPPORTED_CURRENCY_PAIR"},
		{"provider down", "?from=BTC&to=ETH", fmt.Errorf("Resolve: %w", domain.ErrProviderUnavailable), http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := &mockRates{err: tc.err}
			rr := httptest.NewRecorder()
			NewRatesHandler(m).GetRate(rr, httptest.NewRequest(http.MethodGet, "/api/v1/rates"+tc.query, nil))

			assert.Equal(t, tc.wantStatus, rr.Code)
			resp, data := decodeResponse(t, rr)
			if tc.wantCode != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tc.wantCode, resp.Error.Code)
				return
			}
			assert.Equal(t, domain.Currency("USD"), m.from)
			assert.Equal(t, "0.92", data["rate"])
			assert.Equal(t, "static_table", data["source"])
		})
	}
}

func TestRatesHandler_Estimate(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRatesHandler(&mockRates{}).Estimate(rr, httptest.NewRequest(http.MethodGet, "/api/v1/rates/estimate?from=USD&to=EUR&amount=100", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	_, data := decodeResponse(t, rr)
	assert.Equal(t, "92", data["converted_amount"])
	assert.Equal(t, "EUR", data["to"])

	rr = httptest.NewRecorder()
	NewRatesHandler(&mockRates{}).Estimate(rr, httptest.NewRequest(http.MethodGet, "/api/v1/rates/estimate?from=USD&to=EUR&amount=0", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
