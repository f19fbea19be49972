package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/fees"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/metrics"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
)

type ProcessRequest struct {
	ClientID         string
	SellerID         string
	Amount           decimal.Decimal
	Currency         domain.Currency
	TargetCurrency   domain.Currency
	PaymentMethod    domain.PaymentMethod
	SettlementMethod domain.SettlementMethod
	// Recipient is the payout destination handed to the provider: a wallet
	// address or bank account reference.
	Recipient string
}

type PaymentResponse struct {
	Transaction         *domain.PaymentTransaction
	Charges             *fees.Charges
	RateSource          domain.RateSource
	SettlementInitiated bool
}

// ProcessPayment prices the request, stores it as pending and asks the
// provider to start settlement. Validation and rate errors are returned
// before anything is written. A provider failure after the insert leaves
// the transaction pending without an order id; InitiateSettlement retries.
func (s *Service) ProcessPayment(ctx context.Context, req ProcessRequest) (*PaymentResponse, error) {
	log := logging.FromContext(ctx)

	req.Currency = req.Currency.Normalize()
	req.TargetCurrency = req.TargetCurrency.Normalize()
	if err := validateRequest(req); err != nil {
		return nil, fmt.Errorf("ProcessPayment: %w", err)
	}

	rate := decimal.NewFromInt(1)
	var source domain.RateSource
	if req.Currency != req.TargetCurrency {
		resolved, err := s.rates.Resolve(ctx, req.Currency, req.TargetCurrency)
		if err != nil {
			return nil, fmt.Errorf("ProcessPayment: %w", err)
		}
		rate, source = resolved.Rate, resolved.Source
	}

	charges, err := s.calculator.ComputeCharges(fees.ChargeInput{
		Amount:         req.Amount,
		SourceCurrency: req.Currency,
		TargetCurrency: req.TargetCurrency,
		Rate:           rate,
		Scale:          s.rates.Scale(req.Currency),
		TargetScale:    s.rates.Scale(req.TargetCurrency),
	})
	if err != nil {
		return nil, fmt.Errorf("ProcessPayment: %w", err)
	}

	now := s.now().UTC()
	settleAt, err := fees.EstimateSettlement(now, req.PaymentMethod, req.SettlementMethod)
	if err != nil {
		return nil, fmt.Errorf("ProcessPayment: %w", err)
	}

	tx := &domain.PaymentTransaction{
		ID:                    uuid.New(),
		ClientID:              req.ClientID,
		SellerID:              req.SellerID,
		Amount:                charges.Amount,
		Currency:              req.Currency,
		TargetCurrency:        req.TargetCurrency,
		ConvertedAmount:       charges.ConvertedAmount,
		Fees:                  charges.Fees,
		TotalAmount:           charges.TotalAmount,
		Status:                domain.StatusPending,
		PaymentMethod:         req.PaymentMethod,
		SettlementMethod:      req.SettlementMethod,
		FeeScheduleVersion:    charges.ScheduleVersion,
		EstimatedSettlementAt: settleAt,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if req.Currency != req.TargetCurrency {
		r := charges.Rate
		tx.ConversionRate = &r
	}

	if err := s.transactions.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("ProcessPayment: %w", err)
	}
	metrics.PaymentsCreated.WithLabelValues(string(req.PaymentMethod), string(req.SettlementMethod)).Inc()

	log.Info("payment transaction created",
		"transaction_id", tx.ID,
		"amount", tx.Amount,
		"currency", tx.Currency,
		"target_currency", tx.TargetCurrency,
		"total_amount", tx.TotalAmount,
		"rate_source", source,
	)

	resp := &PaymentResponse{Transaction: tx, Charges: charges, RateSource: source}

	initiated, err := s.initiate(ctx, tx, req.Recipient)
	if err != nil {
		log.Warn("settlement initiation failed, transaction left pending",
			"transaction_id", tx.ID, "error", err)
		return resp, nil
	}
	resp.Transaction = initiated
	resp.SettlementInitiated = true
	return resp, nil
}

// InitiateSettlement asks the provider for a swap order on a transaction
// that does not have one yet. It is a no-op once an order id is assigned.
func (s *Service) InitiateSettlement(ctx context.Context, id uuid.UUID, clientID, recipient string) (*domain.PaymentTransaction, error) {
	tx, err := s.GetForClient(ctx, id, clientID)
	if err != nil {
		return nil, fmt.Errorf("InitiateSettlement: %w", err)
	}
	if tx.ExternalOrderID != nil {
		return tx, nil
	}
	if tx.Status.IsTerminal() {
		return nil, fmt.Errorf("InitiateSettlement: transaction is %s: %w", tx.Status, domain.ErrInvalidStatus)
	}

	updated, err := s.initiate(ctx, tx, recipient)
	if err != nil {
		return nil, fmt.Errorf("InitiateSettlement: %w", err)
	}
	return updated, nil
}

func (s *Service) initiate(ctx context.Context, tx *domain.PaymentTransaction, recipient string) (*domain.PaymentTransaction, error) {
	swap, err := s.swaps.CreateSwap(ctx, provider.SwapRequest{
		Reference: tx.ID.String(),
		From:      tx.Currency,
		To:        tx.TargetCurrency,
		Amount:    tx.Amount,
		Recipient: recipient,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate: %w", err)
	}
	if swap.OrderID == "" {
		return nil, fmt.Errorf("initiate: provider returned no order id: %w", domain.ErrProviderUnavailable)
	}

	err = s.transactions.SetExternalOrderID(ctx, tx.ID, swap.OrderID)
	if err != nil && !errors.Is(err, domain.ErrOrderAlreadyAssigned) {
		return nil, fmt.Errorf("initiate: %w", err)
	}

	updated, err := s.transactions.GetByID(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("initiate: %w", err)
	}

	logging.FromContext(ctx).Info("settlement initiated",
		"transaction_id", tx.ID,
		"external_order_id", swap.OrderID,
		"raw_status", swap.Status,
	)
	return updated, nil
}

func validateRequest(req ProcessRequest) error {
	var problems []string
	if strings.TrimSpace(req.ClientID) == "" {
		problems = append(problems, "client_id is required")
	}
	if strings.TrimSpace(req.SellerID) == "" {
		problems = append(problems, "seller_id is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("validateRequest: %s: %w", strings.Join(problems, ", "), domain.ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("validateRequest: %w", domain.ErrInvalidAmount)
	}
	if !req.Currency.IsValid() || !req.TargetCurrency.IsValid() {
		return fmt.Errorf("validateRequest: %q/%q: %w", req.Currency, req.TargetCurrency, domain.ErrInvalidCurrency)
	}
	if !req.PaymentMethod.IsValid() || !req.SettlementMethod.IsValid() {
		return fmt.Errorf("validateRequest: %q/%q: %w", req.PaymentMethod, req.SettlementMethod, domain.ErrInvalidMethod)
	}
	return nil
}
