// Package fees computes the buyer, seller, conversion and management fees for
// a payment and the time the provider is expected to settle it.
//
// A Calculator is bound to one immutable Schedule. Changing rates at runtime
// means building a new Calculator; charges carry the schedule version so a
// stored transaction can always be re-derived from the schedule it used.
package fees

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
)

type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func (b Bounds) clamp(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(b.Min) {
		return b.Min
	}
	if v.GreaterThan(b.Max) {
		return b.Max
	}
	return v
}

func (b Bounds) halved() Bounds {
	two := decimal.NewFromInt(2)
	return Bounds{Min: b.Min.Div(two), Max: b.Max.Div(two)}
}

type Schedule struct {
	Version string

	BuyerRate      decimal.Decimal
	SellerRate     decimal.Decimal
	ConversionRate decimal.Decimal
	ManagementRate decimal.Decimal

	BuyerBounds      Bounds
	SellerBounds     Bounds
	ConversionBounds Bounds
	// ManagementBounds is the configured range; the management fee itself is
	// clamped to half of it.
	ManagementBounds Bounds
}

func DefaultSchedule() Schedule {
	bounds := Bounds{Min: decimal.RequireFromString("1.00"), Max: decimal.RequireFromString("500.00")}
	return Schedule{
		Version:          "default",
		BuyerRate:        decimal.RequireFromString("0.001"),
		SellerRate:       decimal.RequireFromString("0.001"),
		ConversionRate:   decimal.RequireFromString("0.005"),
		ManagementRate:   decimal.RequireFromString("0.01"),
		BuyerBounds:      bounds,
		SellerBounds:     bounds,
		ConversionBounds: bounds,
		ManagementBounds: bounds,
	}
}

func (s Schedule) Validate() error {
	for name, r := range map[string]decimal.Decimal{
		"buyer": s.BuyerRate, "seller": s.SellerRate,
		"conversion": s.ConversionRate, "management": s.ManagementRate,
	} {
		if r.IsNegative() {
			return fmt.Errorf("Schedule.Validate: negative %s rate: %w", name, domain.ErrInvalidRequest)
		}
	}
	for name, b := range map[string]Bounds{
		"buyer": s.BuyerBounds, "seller": s.SellerBounds,
		"conversion": s.ConversionBounds, "management": s.ManagementBounds,
	} {
		if b.Min.IsNegative() || b.Max.LessThan(b.Min) {
			return fmt.Errorf("Schedule.Validate: bad %s bounds [%s, %s]: %w", name, b.Min, b.Max, domain.ErrInvalidRequest)
		}
	}
	return nil
}

type ChargeInput struct {
	Amount         decimal.Decimal
	SourceCurrency domain.Currency
	TargetCurrency domain.Currency
	Rate           decimal.Decimal
	// Scale is the number of fractional digits for source-currency amounts.
	Scale int32
	// TargetScale is used for the converted amount; defaults to Scale.
	TargetScale int32
}

type Charges struct {
	Amount          decimal.Decimal
	Fees            domain.Fees
	BuyerSideFee    decimal.Decimal
	SellerSideFee   decimal.Decimal
	TotalAmount     decimal.Decimal
	SellerPayout    decimal.Decimal
	ConvertedAmount decimal.Decimal
	Rate            decimal.Decimal
	ScheduleVersion string
}

type Calculator struct {
	schedule Schedule
}

func NewCalculator(schedule Schedule) (*Calculator, error) {
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("NewCalculator: %w", err)
	}
	return &Calculator{schedule: schedule}, nil
}

func (c *Calculator) Schedule() Schedule {
	return c.schedule
}

// ComputeCharges rounds every value once, half away from zero, which is
// half-up for the non-negative amounts accepted here.
func (c *Calculator) ComputeCharges(in ChargeInput) (*Charges, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("ComputeCharges: %w", domain.ErrInvalidAmount)
	}
	if !in.Rate.IsPositive() {
		return nil, fmt.Errorf("ComputeCharges: non-positive rate %s: %w", in.Rate, domain.ErrInvalidRequest)
	}
	targetScale := in.TargetScale
	if targetScale == 0 {
		targetScale = in.Scale
	}

	s := c.schedule
	amount := in.Amount.Round(in.Scale)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("ComputeCharges: %s rounds to zero: %w", in.Amount, domain.ErrInvalidAmount)
	}
	round := func(v decimal.Decimal) decimal.Decimal { return v.Round(in.Scale) }

	buyer := round(s.BuyerBounds.clamp(amount.Mul(s.BuyerRate)))
	seller := round(s.SellerBounds.clamp(amount.Mul(s.SellerRate)))

	conversion := decimal.Zero
	if in.SourceCurrency != in.TargetCurrency {
		conversion = round(s.ConversionBounds.clamp(amount.Mul(s.ConversionRate)))
	}

	management := round(s.ManagementBounds.halved().clamp(amount.Mul(s.ManagementRate)))
	managementBuyer := round(management.Div(decimal.NewFromInt(2)))

	fees := domain.Fees{
		BuyerFee:                buyer,
		SellerFee:               seller,
		ConversionFee:           conversion,
		ManagementFee:           management,
		ManagementFeeBuyerShare: managementBuyer,
	}

	buyerSide := fees.BuyerSideTotal()
	sellerSide := fees.SellerSideTotal()
	payout := amount.Sub(sellerSide)
	if payout.IsNegative() {
		payout = decimal.Zero
	}

	return &Charges{
		Amount:          amount,
		Fees:            fees,
		BuyerSideFee:    buyerSide,
		SellerSideFee:   sellerSide,
		TotalAmount:     amount.Add(buyerSide),
		SellerPayout:    payout,
		ConvertedAmount: amount.Mul(in.Rate).Round(targetScale),
		Rate:            in.Rate,
		ScheduleVersion: s.Version,
	}, nil
}

// EstimateSettlement returns when the provider is expected to settle a
// payment created at from.
func EstimateSettlement(from time.Time, pm domain.PaymentMethod, sm domain.SettlementMethod) (time.Time, error) {
	window, err := domain.SettlementWindow(pm, sm)
	if err != nil {
		return time.Time{}, fmt.Errorf("EstimateSettlement: %w", err)
	}
	return from.Add(window), nil
}
