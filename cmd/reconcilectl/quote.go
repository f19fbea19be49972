package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/fees"
	"github.com/josh-kwaku/reconciliation-engine/internal/fx"
)

func quoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote <amount> <currency> <target-currency>",
		Short: "Price a payment without storing it",
		Args:  cobra.ExactArgs(3),
		RunE:  runQuote,
	}
	cmd.Flags().String("payment-method", string(domain.PaymentMethodFiat), "fiat or crypto")
	cmd.Flags().String("settlement-method", string(domain.SettlementMethodBank), "bank or blockchain")
	return cmd
}

type quoteOutput struct {
	Amount          decimal.Decimal   `json:"amount"`
	Currency        domain.Currency   `json:"currency"`
	TargetCurrency  domain.Currency   `json:"target_currency"`
	Rate            decimal.Decimal   `json:"rate"`
	RateSource      domain.RateSource `json:"rate_source,omitempty"`
	Fees            map[string]string `json:"fees"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	SellerPayout    decimal.Decimal   `json:"seller_payout"`
	ConvertedAmount decimal.Decimal   `json:"converted_amount"`
	SettlementAt    string            `json:"estimated_settlement_at"`
	ScheduleVersion string            `json:"fee_schedule_version"`
}

func runQuote(cmd *cobra.Command, args []string) error {
	amount, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("amount %q: %w", args[0], domain.ErrInvalidAmount)
	}
	from := domain.Currency(args[1]).Normalize()
	to := domain.Currency(args[2]).Normalize()
	pmFlag, _ := cmd.Flags().GetString("payment-method")
	smFlag, _ := cmd.Flags().GetString("settlement-method")
	pm, sm := domain.PaymentMethod(pmFlag), domain.SettlementMethod(smFlag)

	e, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var table *fx.FiatTable
	if e.cfg.FiatRatesFile != "" {
		if table, err = fx.LoadFiatTable(e.cfg.FiatRatesFile); err != nil {
			return err
		}
	}
	resolver, err := fx.NewResolver(e.provider, e.cache, nil, fx.Options{
		StableAsset:   domain.Currency(e.cfg.StableAsset),
		ReferenceFiat: domain.Currency(e.cfg.ReferenceFiat),
		FiatTable:     table,
	})
	if err != nil {
		return err
	}

	schedule, err := e.cfg.FeeSchedule()
	if err != nil {
		return err
	}
	calc, err := fees.NewCalculator(schedule)
	if err != nil {
		return err
	}

	rate := decimal.NewFromInt(1)
	var source domain.RateSource
	if from != to {
		resolved, err := resolver.Resolve(ctx, from, to)
		if err != nil {
			return err
		}
		rate, source = resolved.Rate, resolved.Source
	}

	charges, err := calc.ComputeCharges(fees.ChargeInput{
		Amount:         amount,
		SourceCurrency: from,
		TargetCurrency: to,
		Rate:           rate,
		Scale:          resolver.Scale(from),
		TargetScale:    resolver.Scale(to),
	})
	if err != nil {
		return err
	}
	settleAt, err := fees.EstimateSettlement(time.Now().UTC(), pm, sm)
	if err != nil {
		return err
	}

	out := quoteOutput{
		Amount:         charges.Amount,
		Currency:       from,
		TargetCurrency: to,
		Rate:           charges.Rate,
		RateSource:     source,
		Fees: map[string]string{
			"buyer":             charges.Fees.BuyerFee.String(),
			"seller":            charges.Fees.SellerFee.String(),
			"conversion":        charges.Fees.ConversionFee.String(),
			"management":        charges.Fees.ManagementFee.String(),
			"management_buyer":  charges.Fees.ManagementFeeBuyerShare.String(),
			"management_seller": charges.Fees.ManagementFeeSellerShare().String(),
		},
		TotalAmount:     charges.TotalAmount,
		SellerPayout:    charges.SellerPayout,
		ConvertedAmount: charges.ConvertedAmount,
		SettlementAt:    settleAt.Format(time.RFC3339),
		ScheduleVersion: charges.ScheduleVersion,
	}

	if jsonOutput(cmd) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("%s %s -> %s\n", out.Amount, out.Currency, out.TargetCurrency)
	fmt.Printf("  rate:            %s (%s)\n", out.Rate, valueOr(string(out.RateSource), "identity"))
	fmt.Printf("  buyer fee:       %s\n", charges.Fees.BuyerFee)
	fmt.Printf("  seller fee:      %s\n", charges.Fees.SellerFee)
	fmt.Printf("  conversion fee:  %s\n", charges.Fees.ConversionFee)
	fmt.Printf("  management fee:  %s (buyer %s / seller %s)\n",
		charges.Fees.ManagementFee, charges.Fees.ManagementFeeBuyerShare, charges.Fees.ManagementFeeSellerShare())
	fmt.Printf("  total charged:   %s %s\n", out.TotalAmount, out.Currency)
	fmt.Printf("  seller payout:   %s %s\n", out.SellerPayout, out.Currency)
	fmt.Printf("  converted:       %s %s\n", out.ConvertedAmount, out.TargetCurrency)
	fmt.Printf("  settles by:      %s\n", out.SettlementAt)
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
