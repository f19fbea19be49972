package domain

import (
	"fmt"
	"time"
)

type PaymentMethod string

const (
	PaymentMethodFiat   PaymentMethod = "fiat"
	PaymentMethodCrypto PaymentMethod = "crypto"
)

func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodFiat || m == PaymentMethodCrypto
}

type SettlementMethod string

const (
	SettlementMethodBank       SettlementMethod = "bank"
	SettlementMethodBlockchain SettlementMethod = "blockchain"
)

func (m SettlementMethod) IsValid() bool {
	return m == SettlementMethodBank || m == SettlementMethodBlockchain
}

// SettlementWindow returns how long the provider typically takes to settle a
// payment for the given method pair.
func SettlementWindow(pm PaymentMethod, sm SettlementMethod) (time.Duration, error) {
	switch pm {
	case PaymentMethodFiat:
		switch sm {
		case SettlementMethodBank:
			return 72 * time.Hour, nil
		case SettlementMethodBlockchain:
			return 2 * time.Hour, nil
		}
	case PaymentMethodCrypto:
		switch sm {
		case SettlementMethodBank:
			return 48 * time.Hour, nil
		case SettlementMethodBlockchain:
			return 30 * time.Minute, nil
		}
	}
	return 0, fmt.Errorf("SettlementWindow: %s/%s: %w", pm, sm, ErrInvalidMethod)
}
