package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookOutcome string

const (
	WebhookOutcomeApplied   WebhookOutcome = "applied"
	WebhookOutcomeStale     WebhookOutcome = "stale"
	WebhookOutcomeUntracked WebhookOutcome = "untracked"
)

// WebhookReceipt is the append-only audit row for each provider push that
// matched a tracked transaction.
type WebhookReceipt struct {
	ID              uuid.UUID
	TransactionID   uuid.UUID
	ExternalOrderID string
	RawStatus       string
	MappedStatus    TransactionStatus
	Outcome         WebhookOutcome
	Payload         json.RawMessage
	ReceivedAt      time.Time
}
