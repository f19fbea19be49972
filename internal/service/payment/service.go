package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/fees"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
)

type transactionRepo interface {
	Create(ctx context.Context, t *domain.PaymentTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	UpdateStatusIfAdvancing(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, patch domain.StatusPatch) (*domain.PaymentTransaction, bool, error)
	SetExternalOrderID(ctx context.Context, id uuid.UUID, orderID string) error
	ListByClient(ctx context.Context, clientID string, limit, offset int) ([]domain.PaymentTransaction, int, error)
}

type rateResolver interface {
	Resolve(ctx context.Context, from, to domain.Currency) (*domain.ExchangeRate, error)
	Scale(c domain.Currency) int32
}

type swapProvider interface {
	CreateSwap(ctx context.Context, req provider.SwapRequest) (*provider.Swap, error)
}

type Service struct {
	transactions transactionRepo
	rates        rateResolver
	swaps        swapProvider
	calculator   *fees.Calculator
	now          func() time.Time
}

func NewService(
	transactions transactionRepo,
	rates rateResolver,
	swaps swapProvider,
	calculator *fees.Calculator,
) *Service {
	return &Service{
		transactions: transactions,
		rates:        rates,
		swaps:        swaps,
		calculator:   calculator,
		now:          time.Now,
	}
}

func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	tx, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetStatus: %w", err)
	}
	return tx, nil
}

// GetForClient hides transactions owned by other clients behind ErrNotFound.
func (s *Service) GetForClient(ctx context.Context, id uuid.UUID, clientID string) (*domain.PaymentTransaction, error) {
	tx, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetForClient: %w", err)
	}
	if tx.ClientID != clientID {
		return nil, fmt.Errorf("GetForClient: %w", domain.ErrNotFound)
	}
	return tx, nil
}

func (s *Service) List(ctx context.Context, clientID string, limit, offset int) ([]domain.PaymentTransaction, int, error) {
	txs, total, err := s.transactions.ListByClient(ctx, clientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("List: %w", err)
	}
	return txs, total, nil
}
