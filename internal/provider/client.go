// Package provider talks to the external settlement provider: currency
// registry, rate estimates, swap initiation and order status lookups.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/josh-kwaku/reconciliation-engine/internal/cache"
	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/metrics"
)

type Config struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	Timeout        time.Duration
	OrderStatusTTL time.Duration
}

type Client struct {
	baseURL    string
	clientID   string
	creds      *clientcredentials.Config
	httpClient *http.Client
	cache      *cache.Cache
	orderTTL   time.Duration
}

func NewClient(cfg Config, c *cache.Cache) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		baseURL:  base,
		clientID: cfg.ClientID,
		creds: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     base + "/oauth/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: &http.Client{Timeout: timeout},
		cache:      c,
		orderTTL:   cfg.OrderStatusTTL,
	}
}

// Estimate is the provider's quote for swapping Amount of From into To.
type Estimate struct {
	From            domain.Currency
	To              domain.Currency
	Amount          decimal.Decimal
	EstimatedAmount decimal.Decimal
	Rate            decimal.Decimal
}

type EstimateRequest struct {
	From        domain.Currency
	FromNetwork string
	To          domain.Currency
	ToNetwork   string
	Amount      decimal.Decimal
}

type SwapRequest struct {
	Reference string
	From      domain.Currency
	To        domain.Currency
	Amount    decimal.Decimal
	Recipient string
}

type Swap struct {
	OrderID string
	Status  string
}

type currencyDTO struct {
	Ticker  string `json:"ticker"`
	Network string `json:"network"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Stable  bool   `json:"stable"`
}

type estimateDTO struct {
	From            string          `json:"from"`
	To              string          `json:"to"`
	Amount          decimal.Decimal `json:"amount"`
	EstimatedAmount decimal.Decimal `json:"estimated_amount"`
	Rate            decimal.Decimal `json:"rate"`
}

type swapRequestDTO struct {
	Reference string          `json:"reference"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Recipient string          `json:"recipient,omitempty"`
}

type swapDTO struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (c *Client) Currencies(ctx context.Context) ([]domain.CurrencyInfo, error) {
	var dtos []currencyDTO
	if err := c.do(ctx, "currencies", http.MethodGet, "/v1/currencies", nil, &dtos); err != nil {
		return nil, fmt.Errorf("Currencies: %w", err)
	}

	out := make([]domain.CurrencyInfo, 0, len(dtos))
	for _, d := range dtos {
		kind := domain.CurrencyKindCrypto
		if strings.EqualFold(d.Kind, string(domain.CurrencyKindFiat)) {
			kind = domain.CurrencyKindFiat
		}
		out = append(out, domain.CurrencyInfo{
			Ticker:  domain.Currency(d.Ticker).Normalize(),
			Network: d.Network,
			Name:    d.Name,
			Kind:    kind,
			Stable:  d.Stable,
		})
	}
	return out, nil
}

func (c *Client) Estimate(ctx context.Context, req EstimateRequest) (*Estimate, error) {
	q := url.Values{}
	q.Set("from", string(req.From))
	q.Set("to", string(req.To))
	if req.FromNetwork != "" {
		q.Set("from_network", req.FromNetwork)
	}
	if req.ToNetwork != "" {
		q.Set("to_network", req.ToNetwork)
	}
	q.Set("amount", req.Amount.String())

	var dto estimateDTO
	if err := c.do(ctx, "estimate", http.MethodGet, "/v1/estimate?"+q.Encode(), nil, &dto); err != nil {
		return nil, fmt.Errorf("Estimate: %w", err)
	}

	rate := dto.Rate
	if !rate.IsPositive() && req.Amount.IsPositive() {
		rate = dto.EstimatedAmount.Div(req.Amount)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("Estimate: non-positive rate for %s/%s: %w", req.From, req.To, domain.ErrProviderUnavailable)
	}

	return &Estimate{
		From:            req.From,
		To:              req.To,
		Amount:          req.Amount,
		EstimatedAmount: dto.EstimatedAmount,
		Rate:            rate,
	}, nil
}

func (c *Client) CreateSwap(ctx context.Context, req SwapRequest) (*Swap, error) {
	body := swapRequestDTO{
		Reference: req.Reference,
		From:      string(req.From),
		To:        string(req.To),
		Amount:    req.Amount,
		Recipient: req.Recipient,
	}

	var dto swapDTO
	if err := c.do(ctx, "create_swap", http.MethodPost, "/v1/swaps", body, &dto); err != nil {
		return nil, fmt.Errorf("CreateSwap: %w", err)
	}
	if dto.OrderID == "" {
		return nil, fmt.Errorf("CreateSwap: empty order id: %w", domain.ErrProviderUnavailable)
	}
	return &Swap{OrderID: dto.OrderID, Status: dto.Status}, nil
}

// OrderStatus returns the provider's current view of an order. Snapshots are
// cached briefly so a webhook burst and a poll cycle share one lookup.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*domain.OrderSnapshot, error) {
	if snap, found, err := c.cache.GetOrderStatus(ctx, orderID); err != nil {
		logging.FromContext(ctx).Warn("order status cache read failed", "external_order_id", orderID, "error", err)
	} else if found {
		metrics.CacheLookups.WithLabelValues("order_status", "hit").Inc()
		return snap, nil
	}
	metrics.CacheLookups.WithLabelValues("order_status", "miss").Inc()

	var snap domain.OrderSnapshot
	if err := c.do(ctx, "order_status", http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &snap); err != nil {
		return nil, fmt.Errorf("OrderStatus: %w", err)
	}
	if snap.OrderID == "" {
		snap.OrderID = orderID
	}

	if err := c.cache.SetOrderStatus(ctx, snap, c.orderTTL); err != nil {
		logging.FromContext(ctx).Warn("order status cache write failed", "external_order_id", orderID, "error", err)
	}
	return &snap, nil
}

func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	if tok, found, err := c.cache.GetToken(ctx, c.clientID); err == nil && found {
		metrics.CacheLookups.WithLabelValues("token", "hit").Inc()
		return &oauth2.Token{AccessToken: tok.AccessToken, TokenType: tok.TokenType, Expiry: tok.Expiry}, nil
	}
	metrics.CacheLookups.WithLabelValues("token", "miss").Inc()

	tok, err := c.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		return nil, fmt.Errorf("token: %v: %w", err, domain.ErrProviderUnavailable)
	}

	if !tok.Expiry.IsZero() {
		if err := c.cache.SetToken(ctx, c.clientID, cache.BearerToken{
			AccessToken: tok.AccessToken,
			TokenType:   tok.Type(),
			Expiry:      tok.Expiry,
		}); err != nil {
			logging.FromContext(ctx).Warn("token cache write failed", "error", err)
		}
	}
	return tok, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	log := logging.FromContext(ctx)
	start := time.Now()
	result := "ok"
	defer func() {
		metrics.ProviderCalls.WithLabelValues(op, result).Inc()
		metrics.ProviderDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	tok, err := c.token(ctx)
	if err != nil {
		result = "auth_error"
		return err
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			result = "error"
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		result = "error"
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	tok.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result = "transport_error"
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%s %s: %v: %w", method, path, err, domain.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	log.Debug("provider response received",
		"operation", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		result = "not_found"
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusTooManyRequests:
		result = "unavailable"
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s: %w", method, path, resp.StatusCode, string(snippet), domain.ErrProviderUnavailable)
	case resp.StatusCode >= 400:
		result = "rejected"
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s: %w", method, path, resp.StatusCode, string(snippet), domain.ErrInvalidRequest)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		result = "decode_error"
		return fmt.Errorf("%s %s: decode: %v: %w", method, path, err, domain.ErrProviderUnavailable)
	}
	return nil
}
