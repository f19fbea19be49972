// Package fx resolves exchange rates between any two supported currencies.
//
// Crypto pairs are priced by the settlement provider. Fiat pairs come from a
// static table, crossing through the reference fiat when no quote exists.
// Mixed pairs bridge through the stable asset, which is treated as 1:1 with
// the reference fiat. Resolved rates are cached and written to rate history.
package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/josh-kwaku/reconciliation-engine/internal/cache"
	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/metrics"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
)

type rateProvider interface {
	Currencies(ctx context.Context) ([]domain.CurrencyInfo, error)
	Estimate(ctx context.Context, req provider.EstimateRequest) (*provider.Estimate, error)
}

type rateHistory interface {
	Record(ctx context.Context, entry *domain.RateHistoryEntry) error
}

type Options struct {
	StableAsset domain.Currency
	// ReferenceFiat defaults to the fiat table's reference currency.
	ReferenceFiat domain.Currency
	FiatTable     *FiatTable
}

type Conversion struct {
	From            domain.Currency
	To              domain.Currency
	Amount          decimal.Decimal
	ConvertedAmount decimal.Decimal
	Rate            domain.ExchangeRate
}

type Resolver struct {
	provider  rateProvider
	cache     *cache.Cache
	history   rateHistory
	fiat      *FiatTable
	stable    domain.Currency
	reference domain.Currency
	group     singleflight.Group
	now       func() time.Time
}

func NewResolver(p rateProvider, c *cache.Cache, h rateHistory, opts Options) (*Resolver, error) {
	table := opts.FiatTable
	if table == nil {
		var err error
		if table, err = DefaultFiatTable(); err != nil {
			return nil, fmt.Errorf("NewResolver: %w", err)
		}
	}

	ref := opts.ReferenceFiat.Normalize()
	if ref == "" {
		ref = table.Reference()
	}
	if !table.Has(ref) {
		return nil, fmt.Errorf("NewResolver: reference fiat %s missing from table: %w", ref, domain.ErrInvalidCurrency)
	}

	stable := opts.StableAsset.Normalize()
	if stable == "" {
		stable = "USDT"
	}

	return &Resolver{
		provider:  p,
		cache:     c,
		history:   h,
		fiat:      table,
		stable:    stable,
		reference: ref,
		now:       time.Now,
	}, nil
}

// Resolve returns the rate converting one unit of from into to.
func (r *Resolver) Resolve(ctx context.Context, from, to domain.Currency) (*domain.ExchangeRate, error) {
	from, to = from.Normalize(), to.Normalize()
	if from == to && from != "" {
		return &domain.ExchangeRate{
			From:   from,
			To:     to,
			Rate:   decimal.NewFromInt(1),
			Source: domain.RateSourceStaticTable,
		}, nil
	}
	if !from.IsValid() || !to.IsValid() {
		return nil, fmt.Errorf("Resolve: %q/%q: %w", from, to, domain.ErrInvalidCurrency)
	}

	log := logging.FromContext(ctx)

	cached, found, err := r.cache.GetRate(ctx, from, to)
	if err != nil {
		log.Warn("rate cache read failed", "from", from, "to", to, "error", err)
	} else if found {
		metrics.CacheLookups.WithLabelValues("rate", "hit").Inc()
		return cached, nil
	}
	metrics.CacheLookups.WithLabelValues("rate", "miss").Inc()

	fromInfo, err := r.classify(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	toInfo, err := r.classify(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}

	var (
		rate   decimal.Decimal
		source domain.RateSource
		ttl    time.Duration
	)

	fromCrypto := fromInfo.Kind == domain.CurrencyKindCrypto
	toCrypto := toInfo.Kind == domain.CurrencyKindCrypto

	switch {
	case fromCrypto && toCrypto:
		rate, err = r.providerRate(ctx, fromInfo, toInfo)
		source, ttl = domain.RateSourceProviderAPI, cache.ProviderRateTTL
	case fromCrypto:
		rate, err = r.cryptoToFiat(ctx, from, to)
		source, ttl = domain.RateSourceCrossRate, cache.ProviderRateTTL
	case toCrypto:
		rate, err = r.fiatToCrypto(ctx, from, to)
		source, ttl = domain.RateSourceCrossRate, cache.ProviderRateTTL
	default:
		var ok bool
		rate, source, ok = r.fiat.Lookup(from, to)
		if !ok {
			err = fmt.Errorf("no fiat path %s/%s: %w", from, to, domain.ErrUnsupportedCurrencyPair)
		}
		ttl = cache.FiatRateTTL
	}
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}

	resolved := domain.ExchangeRate{From: from, To: to, Rate: rate, Source: source}
	stored, err := r.cache.SetRate(ctx, resolved, ttl)
	if err != nil {
		log.Warn("rate cache write failed", "from", from, "to", to, "error", err)
	}
	metrics.RateResolutions.WithLabelValues(string(source)).Inc()
	r.record(ctx, stored)

	return &stored, nil
}

// Estimate converts amount from one currency into another, rounded to the
// target currency's scale.
func (r *Resolver) Estimate(ctx context.Context, from, to domain.Currency, amount decimal.Decimal) (*Conversion, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("Estimate: %w", domain.ErrInvalidAmount)
	}

	rate, err := r.Resolve(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("Estimate: %w", err)
	}

	return &Conversion{
		From:            rate.From,
		To:              rate.To,
		Amount:          amount,
		ConvertedAmount: amount.Mul(rate.Rate).Round(r.Scale(rate.To)),
		Rate:            *rate,
	}, nil
}

// Scale is the number of fractional digits amounts in c are kept to:
// 2 for fiat, 8 for everything priced by the provider.
func (r *Resolver) Scale(c domain.Currency) int32 {
	if r.fiat.Has(c.Normalize()) {
		return 2
	}
	return 8
}

// Currencies returns the provider's currency registry, refreshed at most
// once per CurrencyListTTL. Concurrent misses share one provider call.
func (r *Resolver) Currencies(ctx context.Context) ([]domain.CurrencyInfo, error) {
	list, found, err := r.cache.GetCurrencies(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("currency cache read failed", "error", err)
	} else if found {
		metrics.CacheLookups.WithLabelValues("currencies", "hit").Inc()
		return list, nil
	}
	metrics.CacheLookups.WithLabelValues("currencies", "miss").Inc()

	v, err, _ := r.group.Do("currencies", func() (any, error) {
		fresh, err := r.provider.Currencies(ctx)
		if err != nil {
			return nil, err
		}
		if err := r.cache.SetCurrencies(ctx, fresh, cache.CurrencyListTTL); err != nil {
			logging.FromContext(ctx).Warn("currency cache write failed", "error", err)
		}
		return fresh, nil
	})
	if err != nil {
		return nil, fmt.Errorf("Currencies: %w", err)
	}
	return v.([]domain.CurrencyInfo), nil
}

func (r *Resolver) classify(ctx context.Context, c domain.Currency) (*domain.CurrencyInfo, error) {
	if r.fiat.Has(c) {
		return &domain.CurrencyInfo{Ticker: c, Kind: domain.CurrencyKindFiat}, nil
	}

	list, err := r.Currencies(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Ticker == c {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("unknown currency %s: %w", c, domain.ErrUnsupportedCurrencyPair)
}

func (r *Resolver) providerRate(ctx context.Context, from, to *domain.CurrencyInfo) (decimal.Decimal, error) {
	est, err := r.provider.Estimate(ctx, provider.EstimateRequest{
		From:        from.Ticker,
		FromNetwork: from.Network,
		To:          to.Ticker,
		ToNetwork:   to.Network,
		Amount:      decimal.NewFromInt(1),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			return decimal.Zero, fmt.Errorf("provider rejected %s/%s: %w", from.Ticker, to.Ticker, domain.ErrUnsupportedCurrencyPair)
		}
		return decimal.Zero, err
	}
	return est.Rate, nil
}

// stableLeg prices crypto in the stable asset; the stable asset itself is 1.
func (r *Resolver) stableLeg(ctx context.Context, crypto domain.Currency, toStable bool) (decimal.Decimal, error) {
	if crypto == r.stable {
		return decimal.NewFromInt(1), nil
	}
	from, to := crypto, r.stable
	if !toStable {
		from, to = r.stable, crypto
	}
	leg, err := r.Resolve(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return leg.Rate, nil
}

func (r *Resolver) cryptoToFiat(ctx context.Context, crypto, fiat domain.Currency) (decimal.Decimal, error) {
	toStable, err := r.stableLeg(ctx, crypto, true)
	if err != nil {
		return decimal.Zero, err
	}
	fiatLeg, _, ok := r.fiat.Lookup(r.reference, fiat)
	if !ok {
		return decimal.Zero, fmt.Errorf("no fiat leg %s/%s: %w", r.reference, fiat, domain.ErrUnsupportedCurrencyPair)
	}
	return toStable.Mul(fiatLeg), nil
}

func (r *Resolver) fiatToCrypto(ctx context.Context, fiat, crypto domain.Currency) (decimal.Decimal, error) {
	fiatLeg, _, ok := r.fiat.Lookup(fiat, r.reference)
	if !ok {
		return decimal.Zero, fmt.Errorf("no fiat leg %s/%s: %w", fiat, r.reference, domain.ErrUnsupportedCurrencyPair)
	}
	fromStable, err := r.stableLeg(ctx, crypto, false)
	if err != nil {
		return decimal.Zero, err
	}
	return fiatLeg.Mul(fromStable), nil
}

func (r *Resolver) record(ctx context.Context, rate domain.ExchangeRate) {
	if r.history == nil {
		return
	}
	entry := &domain.RateHistoryEntry{
		ID:         uuid.New(),
		From:       rate.From,
		To:         rate.To,
		Rate:       rate.Rate,
		Source:     rate.Source,
		ResolvedAt: r.now().UTC(),
	}
	if err := r.history.Record(ctx, entry); err != nil {
		logging.FromContext(ctx).Error("rate history write failed",
			"from", rate.From, "to", rate.To, "source", rate.Source, "error", err)
	}
}
