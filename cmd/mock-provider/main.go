// Command mock-provider is a local stand-in for the settlement provider. It
// issues client-credential tokens, quotes crypto pairs, accepts swaps and
// walks each order through the provider lifecycle, pushing signed webhooks
// to the engine as the order advances.
package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
)

type config struct {
	Addr          string        `env:"MOCK_PROVIDER_ADDR" envDefault:":8081"`
	ClientID      string        `env:"PROVIDER_CLIENT_ID" envDefault:"recon-engine"`
	ClientSecret  string        `env:"PROVIDER_CLIENT_SECRET"`
	WebhookURL    string        `env:"MOCK_WEBHOOK_URL" envDefault:"http://api:8080/webhooks/order-update"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	StepInterval  time.Duration `env:"MOCK_STEP_INTERVAL" envDefault:"10s"`
	// DropWebhookEvery skips every Nth push so the poller has work to do.
	DropWebhookEvery int    `env:"MOCK_DROP_WEBHOOK_EVERY" envDefault:"3"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv           string `env:"APP_ENV" envDefault:"development"`
}

// usdtPrices quotes one unit of each asset in USDT.
var usdtPrices = map[domain.Currency]decimal.Decimal{
	"USDT": decimal.NewFromInt(1),
	"USDC": decimal.RequireFromString("0.9998"),
	"BTC":  decimal.RequireFromString("64250.50"),
	"ETH":  decimal.RequireFromString("3120.75"),
	"SOL":  decimal.RequireFromString("142.10"),
}

var registry = []currencyDTO{
	{Ticker: "BTC", Network: "btc", Name: "Bitcoin", Kind: "crypto"},
	{Ticker: "ETH", Network: "eth", Name: "Ethereum", Kind: "crypto"},
	{Ticker: "SOL", Network: "sol", Name: "Solana", Kind: "crypto"},
	{Ticker: "USDT", Network: "trx", Name: "Tether", Kind: "crypto", Stable: true},
	{Ticker: "USDC", Network: "eth", Name: "USD Coin", Kind: "crypto", Stable: true},
}

type currencyDTO struct {
	Ticker  string `json:"ticker"`
	Network string `json:"network"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Stable  bool   `json:"stable"`
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init("mock-provider", cfg.LogLevel, cfg.AppEnv)

	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is empty, webhooks will be sent unsigned")
	}

	orders := newOrderBook(cfg, &http.Client{Timeout: 5 * time.Second}, logger)
	srv := &server{cfg: cfg, orders: orders, tokens: make(map[string]time.Time)}

	logger.Info("mock provider started", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, srv.routes()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/oauth/token", s.issueToken)

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireToken)
		pr.Get("/v1/currencies", s.currencies)
		pr.Get("/v1/estimate", s.estimate)
		pr.Post("/v1/swaps", s.createSwap)
		pr.Get("/v1/orders/{id}", s.getOrder)
	})

	// Operator hook to force an order into any raw state, e.g. Failed.
	r.Post("/admin/orders/{id}/status", s.forceStatus)

	return r
}

func (s *server) estimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := domain.Currency(q.Get("from")).Normalize()
	to := domain.Currency(q.Get("to")).Normalize()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil || !amount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be a positive decimal"})
		return
	}

	fromPrice, okFrom := usdtPrices[from]
	toPrice, okTo := usdtPrices[to]
	if !okFrom || !okTo {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pair not available"})
		return
	}

	rate := fromPrice.Div(toPrice).Round(12)
	writeJSON(w, http.StatusOK, map[string]any{
		"from":             from,
		"to":               to,
		"amount":           amount,
		"estimated_amount": amount.Mul(rate).Round(8),
		"rate":             rate,
	})
}

func (s *server) currencies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, registry)
}

type swapRequest struct {
	Reference string          `json:"reference"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Recipient string          `json:"recipient"`
}

func (s *server) createSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reference is required"})
		return
	}

	snap := s.orders.create(req.Reference)
	writeJSON(w, http.StatusCreated, map[string]string{"order_id": snap.OrderID, "status": snap.Status})
}

func (s *server) getOrder(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.orders.get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) forceStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status        string `json:"status"`
		FailureReason string `json:"failure_reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}
	if _, known := provider.MapStatus(body.Status); !known {
		slog.Warn("forcing an unmapped status", "status", body.Status)
	}

	snap, ok := s.orders.set(chi.URLParam(r, "id"), body.Status, body.FailureReason)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func newOrderID() string {
	return "mock-" + uuid.NewString()[:13]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
