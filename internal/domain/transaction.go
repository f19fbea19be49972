package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
)

// RankTerminal is the rank shared by completed, failed and cancelled.
const RankTerminal = 2

// Rank orders the lifecycle: pending=0, processing=1, terminal=2.
// Unknown statuses rank -1 so they can never win a rank comparison.
func (s TransactionStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed, StatusCancelled:
		return RankTerminal
	default:
		return -1
	}
}

func (s TransactionStatus) IsValid() bool {
	return s.Rank() >= 0
}

func (s TransactionStatus) IsTerminal() bool {
	return s.Rank() == RankTerminal
}

type Fees struct {
	BuyerFee      decimal.Decimal
	SellerFee     decimal.Decimal
	ConversionFee decimal.Decimal
	ManagementFee decimal.Decimal
	// ManagementFeeBuyerShare is rounded once when the fee is computed; the
	// seller share is always ManagementFee minus this value.
	ManagementFeeBuyerShare decimal.Decimal
}

func (f Fees) ManagementFeeSellerShare() decimal.Decimal {
	return f.ManagementFee.Sub(f.ManagementFeeBuyerShare)
}

func (f Fees) BuyerSideTotal() decimal.Decimal {
	return f.BuyerFee.Add(f.ConversionFee).Add(f.ManagementFeeBuyerShare)
}

func (f Fees) SellerSideTotal() decimal.Decimal {
	return f.SellerFee.Add(f.ManagementFeeSellerShare())
}

type PaymentTransaction struct {
	ID                    uuid.UUID
	ClientID              string
	SellerID              string
	Amount                decimal.Decimal
	Currency              Currency
	TargetCurrency        Currency
	ConversionRate        *decimal.Decimal
	ConvertedAmount       decimal.Decimal
	Fees                  Fees
	TotalAmount           decimal.Decimal
	Status                TransactionStatus
	PaymentMethod         PaymentMethod
	SettlementMethod      SettlementMethod
	FeeScheduleVersion    string
	ExternalOrderID       *string
	ExternalStatus        *string
	FailureReason         *string
	TransactionHash       *string
	BankReference         *string
	EstimatedSettlementAt time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	CompletedAt           *time.Time
	LastWebhookAt         *time.Time
	LastPollAt            *time.Time
}

// InFlight reports whether the provider still owes us a final status.
func (t *PaymentTransaction) InFlight() bool {
	return t.ExternalOrderID != nil && !t.Status.IsTerminal()
}

// StatusPatch carries the metadata merged alongside a status update. Nil
// fields leave the stored value untouched.
type StatusPatch struct {
	ExternalStatus  *string
	FailureReason   *string
	TransactionHash *string
	BankReference   *string
	WebhookAt       *time.Time
	PollAt          *time.Time
	// ExternalOrder lists lowercased raw statuses in lifecycle order. A
	// same-rank update naming an earlier one than the stored external_status
	// leaves external_status as it is.
	ExternalOrder []string
}
