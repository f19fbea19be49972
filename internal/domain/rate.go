package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RateSource string

const (
	RateSourceProviderAPI RateSource = "provider_api"
	RateSourceStaticTable RateSource = "static_table"
	RateSourceCrossRate   RateSource = "cross_rate"
)

type ExchangeRate struct {
	From       Currency        `json:"from"`
	To         Currency        `json:"to"`
	Rate       decimal.Decimal `json:"rate"`
	Source     RateSource      `json:"source"`
	ValidUntil time.Time       `json:"valid_until"`
}

type RateHistoryEntry struct {
	ID         uuid.UUID
	From       Currency
	To         Currency
	Rate       decimal.Decimal
	Source     RateSource
	ResolvedAt time.Time
}
