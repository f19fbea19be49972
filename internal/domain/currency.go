package domain

import "strings"

type Currency string

// Normalize upper-cases and trims a currency code as received from callers.
func (c Currency) Normalize() Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(string(c))))
}

// IsValid checks the shape of a code only; whether the engine can price it is
// decided by the rate resolver.
func (c Currency) IsValid() bool {
	if len(c) < 2 || len(c) > 10 {
		return false
	}
	for _, r := range c {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

type CurrencyKind string

const (
	CurrencyKindFiat   CurrencyKind = "fiat"
	CurrencyKindCrypto CurrencyKind = "crypto"
)

type CurrencyInfo struct {
	Ticker  Currency     `json:"ticker"`
	Network string       `json:"network"`
	Name    string       `json:"name"`
	Kind    CurrencyKind `json:"kind"`
	Stable  bool         `json:"stable"`
}
