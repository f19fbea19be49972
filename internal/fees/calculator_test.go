package fees

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
)

func newDefaultCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultSchedule())
	require.NoError(t, err)
	return c
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeCharges(t *testing.T) {
	calc := newDefaultCalculator(t)

	tests := []struct {
		name           string
		in             ChargeInput
		wantBuyer      string
		wantSeller     string
		wantConversion string
		wantManagement string
		wantMgmtBuyer  string
		wantTotal      string
		wantConverted  string
	}{
		{
			name:           "1000 USD to USD",
			in:             ChargeInput{Amount: dec("1000"), SourceCurrency: "USD", TargetCurrency: "USD", Rate: dec("1"), Scale: 2},
			wantBuyer:      "1.00",
			wantSeller:     "1.00",
			wantConversion: "0",
			wantManagement: "10.00",
			wantMgmtBuyer:  "5.00",
			wantTotal:      "1006.00",
			wantConverted:  "1000.00",
		},
		{
			name:           "cross currency adds conversion fee",
			in:             ChargeInput{Amount: dec("1000"), SourceCurrency: "USD", TargetCurrency: "EUR", Rate: dec("0.92"), Scale: 2},
			wantBuyer:      "1.00",
			wantSeller:     "1.00",
			wantConversion: "5.00",
			wantManagement: "10.00",
			wantMgmtBuyer:  "5.00",
			wantTotal:      "1011.00",
			wantConverted:  "920.00",
		},
		{
			name:           "small amount clamps every fee to its minimum",
			in:             ChargeInput{Amount: dec("10"), SourceCurrency: "USD", TargetCurrency: "EUR", Rate: dec("0.92"), Scale: 2},
			wantBuyer:      "1.00",
			wantSeller:     "1.00",
			wantConversion: "1.00",
			wantManagement: "0.50",
			wantMgmtBuyer:  "0.25",
			wantTotal:      "12.25",
			wantConverted:  "9.20",
		},
		{
			name:           "large amount clamps every fee to its maximum",
			in:             ChargeInput{Amount: dec("10000000"), SourceCurrency: "USD", TargetCurrency: "GBP", Rate: dec("0.79"), Scale: 2},
			wantBuyer:      "500.00",
			wantSeller:     "500.00",
			wantConversion: "500.00",
			wantManagement: "250.00",
			wantMgmtBuyer:  "125.00",
			wantTotal:      "10000875.00",
			wantConverted:  "7900000.00",
		},
		{
			name:           "exactly at the buyer minimum",
			in:             ChargeInput{Amount: dec("1000"), SourceCurrency: "EUR", TargetCurrency: "EUR", Rate: dec("1"), Scale: 2},
			wantBuyer:      "1.00",
			wantSeller:     "1.00",
			wantConversion: "0",
			wantManagement: "10.00",
			wantMgmtBuyer:  "5.00",
			wantTotal:      "1006.00",
			wantConverted:  "1000.00",
		},
		{
			name:           "half cent rounds up",
			in:             ChargeInput{Amount: dec("1234.5"), SourceCurrency: "USD", TargetCurrency: "USD", Rate: dec("1"), Scale: 2},
			wantBuyer:      "1.23",
			wantSeller:     "1.23",
			wantConversion: "0",
			wantManagement: "12.35",
			wantMgmtBuyer:  "6.18",
			wantTotal:      "1241.91",
			wantConverted:  "1234.50",
		},
		{
			name:           "crypto amounts keep eight digits",
			in:             ChargeInput{Amount: dec("1500.123456789"), SourceCurrency: "USDT", TargetCurrency: "BTC", Rate: dec("0.00001667"), Scale: 8},
			wantBuyer:      "1.50012346",
			wantSeller:     "1.50012346",
			wantConversion: "7.50061728",
			wantManagement: "15.00123457",
			wantMgmtBuyer:  "7.50061729",
			wantTotal:      "1516.62481482",
			wantConverted:  "0.02500706",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ch, err := calc.ComputeCharges(tc.in)
			require.NoError(t, err)

			assertDec(t, tc.wantBuyer, ch.Fees.BuyerFee, "buyer fee")
			assertDec(t, tc.wantSeller, ch.Fees.SellerFee, "seller fee")
			assertDec(t, tc.wantConversion, ch.Fees.ConversionFee, "conversion fee")
			assertDec(t, tc.wantManagement, ch.Fees.ManagementFee, "management fee")
			assertDec(t, tc.wantMgmtBuyer, ch.Fees.ManagementFeeBuyerShare, "management buyer share")
			assertDec(t, tc.wantTotal, ch.TotalAmount, "total")
			assertDec(t, tc.wantConverted, ch.ConvertedAmount, "converted")

			assert.True(t, ch.Fees.ManagementFeeBuyerShare.Add(ch.Fees.ManagementFeeSellerShare()).Equal(ch.Fees.ManagementFee))
			assert.True(t, ch.TotalAmount.GreaterThanOrEqual(ch.Amount))
			assert.Equal(t, "default", ch.ScheduleVersion)
		})
	}
}

func TestComputeCharges_InvalidInput(t *testing.T) {
	calc := newDefaultCalculator(t)

	tests := []struct {
		name    string
		in      ChargeInput
		wantErr error
	}{
		{"zero amount", ChargeInput{Amount: decimal.Zero, Rate: dec("1"), Scale: 2}, domain.ErrInvalidAmount},
		{"negative amount", ChargeInput{Amount: dec("-5"), Rate: dec("1"), Scale: 2}, domain.ErrInvalidAmount},
		{"rounds to zero", ChargeInput{Amount: dec("0.004"), Rate: dec("1"), Scale: 2}, domain.ErrInvalidAmount},
		{"crypto dust rounds to zero", ChargeInput{Amount: dec("0.000000004"), Rate: dec("1"), Scale: 8}, domain.ErrInvalidAmount},
		{"zero rate", ChargeInput{Amount: dec("5"), Rate: decimal.Zero, Scale: 2}, domain.ErrInvalidRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := calc.ComputeCharges(tc.in)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestComputeCharges_FeesStayWithinBounds(t *testing.T) {
	calc := newDefaultCalculator(t)
	s := calc.Schedule()
	mgmt := s.ManagementBounds.halved()

	amounts := []string{"0.01", "0.99", "1", "99.99", "500", "999.99", "1000", "1000.01",
		"25000", "49999.99", "50000", "100000", "499999.99", "1000000", "123456789.12"}

	for _, a := range amounts {
		t.Run(a, func(t *testing.T) {
			ch, err := calc.ComputeCharges(ChargeInput{
				Amount: dec(a), SourceCurrency: "USD", TargetCurrency: "EUR", Rate: dec("0.92"), Scale: 2,
			})
			require.NoError(t, err)

			within := func(v decimal.Decimal, b Bounds) bool {
				return v.GreaterThanOrEqual(b.Min) && v.LessThanOrEqual(b.Max)
			}
			assert.True(t, within(ch.Fees.BuyerFee, s.BuyerBounds), "buyer %s", ch.Fees.BuyerFee)
			assert.True(t, within(ch.Fees.SellerFee, s.SellerBounds), "seller %s", ch.Fees.SellerFee)
			assert.True(t, within(ch.Fees.ConversionFee, s.ConversionBounds), "conversion %s", ch.Fees.ConversionFee)
			assert.True(t, within(ch.Fees.ManagementFee, mgmt), "management %s", ch.Fees.ManagementFee)
			assert.True(t, ch.TotalAmount.GreaterThanOrEqual(ch.Amount))
			assert.False(t, ch.SellerPayout.IsNegative())
		})
	}
}

func TestNewCalculator_RejectsBadSchedule(t *testing.T) {
	s := DefaultSchedule()
	s.BuyerBounds = Bounds{Min: dec("10"), Max: dec("1")}
	_, err := NewCalculator(s)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	s = DefaultSchedule()
	s.ManagementRate = dec("-0.01")
	_, err = NewCalculator(s)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestEstimateSettlement(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		pm   domain.PaymentMethod
		sm   domain.SettlementMethod
		want time.Duration
	}{
		{domain.PaymentMethodFiat, domain.SettlementMethodBank, 72 * time.Hour},
		{domain.PaymentMethodCrypto, domain.SettlementMethodBlockchain, 30 * time.Minute},
		{domain.PaymentMethodFiat, domain.SettlementMethodBlockchain, 2 * time.Hour},
		{domain.PaymentMethodCrypto, domain.SettlementMethodBank, 48 * time.Hour},
	}

	for _, tc := range tests {
		t.Run(string(tc.pm)+"+"+string(tc.sm), func(t *testing.T) {
			got, err := EstimateSettlement(now, tc.pm, tc.sm)
			require.NoError(t, err)
			assert.Equal(t, now.Add(tc.want), got)
		})
	}

	_, err := EstimateSettlement(now, "card", domain.SettlementMethodBank)
	require.ErrorIs(t, err, domain.ErrInvalidMethod)
	_, err = EstimateSettlement(now, domain.PaymentMethodFiat, "cash")
	require.ErrorIs(t, err, domain.ErrInvalidMethod)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "%s: got %s, want %s", field, got, want)
}
