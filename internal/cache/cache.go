package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
)

const (
	CurrencyListTTL = time.Hour
	ProviderRateTTL = 5 * time.Minute
	FiatRateTTL     = 24 * time.Hour
)

// BearerToken is an access token for the settlement provider API.
type BearerToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Expiry      time.Time `json:"expiry"`
}

// Cache wraps a Store with typed accessors. Values are JSON encoded.
type Cache struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

func (c *Cache) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// A corrupt entry is a miss; it will be overwritten on the next set.
		log := logging.FromContext(ctx).With("key", key)
		log.Warn("discarding corrupt cache entry", "error", err)
		if err := c.store.Delete(ctx, key); err != nil {
			log.Warn("failed to delete corrupt cache entry", "error", err)
		}
		return false, nil
	}
	return true, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.store.Set(ctx, key, raw, ttl)
}

func (c *Cache) GetCurrencies(ctx context.Context) ([]domain.CurrencyInfo, bool, error) {
	var list []domain.CurrencyInfo
	found, err := c.getJSON(ctx, "currencies", &list)
	if err != nil {
		return nil, false, fmt.Errorf("GetCurrencies: %w", err)
	}
	return list, found, nil
}

func (c *Cache) SetCurrencies(ctx context.Context, list []domain.CurrencyInfo, ttl time.Duration) error {
	if err := c.setJSON(ctx, "currencies", list, ttl); err != nil {
		return fmt.Errorf("SetCurrencies: %w", err)
	}
	return nil
}

func rateKey(from, to domain.Currency) string {
	return "rate:" + string(from) + "_" + string(to)
}

func (c *Cache) GetRate(ctx context.Context, from, to domain.Currency) (*domain.ExchangeRate, bool, error) {
	var r domain.ExchangeRate
	found, err := c.getJSON(ctx, rateKey(from, to), &r)
	if err != nil {
		return nil, false, fmt.Errorf("GetRate: %w", err)
	}
	if !found || !c.now().Before(r.ValidUntil) {
		return nil, false, nil
	}
	return &r, true, nil
}

// SetRate stamps ValidUntil from ttl before storing the entry.
func (c *Cache) SetRate(ctx context.Context, rate domain.ExchangeRate, ttl time.Duration) (domain.ExchangeRate, error) {
	rate.ValidUntil = c.now().Add(ttl)
	if err := c.setJSON(ctx, rateKey(rate.From, rate.To), rate, ttl); err != nil {
		return rate, fmt.Errorf("SetRate: %w", err)
	}
	return rate, nil
}

func (c *Cache) GetToken(ctx context.Context, clientID string) (*BearerToken, bool, error) {
	var tok BearerToken
	found, err := c.getJSON(ctx, "token:"+clientID, &tok)
	if err != nil {
		return nil, false, fmt.Errorf("GetToken: %w", err)
	}
	if !found || !c.now().Before(tok.Expiry) {
		return nil, false, nil
	}
	return &tok, true, nil
}

// SetToken keeps the token until shortly before the provider expires it.
func (c *Cache) SetToken(ctx context.Context, clientID string, tok BearerToken) error {
	ttl := tok.Expiry.Sub(c.now()) - 30*time.Second
	if ttl <= 0 {
		return nil
	}
	if err := c.setJSON(ctx, "token:"+clientID, tok, ttl); err != nil {
		return fmt.Errorf("SetToken: %w", err)
	}
	return nil
}

func (c *Cache) GetOrderStatus(ctx context.Context, orderID string) (*domain.OrderSnapshot, bool, error) {
	var snap domain.OrderSnapshot
	found, err := c.getJSON(ctx, "order:"+orderID, &snap)
	if err != nil {
		return nil, false, fmt.Errorf("GetOrderStatus: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &snap, true, nil
}

func (c *Cache) SetOrderStatus(ctx context.Context, snap domain.OrderSnapshot, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.setJSON(ctx, "order:"+snap.OrderID, snap, ttl); err != nil {
		return fmt.Errorf("SetOrderStatus: %w", err)
	}
	return nil
}
