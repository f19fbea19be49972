package domain

import "time"

// OrderSnapshot is the provider's view of a swap order at a point in time.
type OrderSnapshot struct {
	OrderID          string    `json:"order_id"`
	Status           string    `json:"status"`
	TxHash           string    `json:"tx_hash,omitempty"`
	DepositConfirmed bool      `json:"deposit_confirmed,omitempty"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}
