package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
)

// fakeStore mirrors the rank-guarded update of the Postgres repository.
type fakeStore struct {
	mu        sync.Mutex
	txs       map[uuid.UUID]*domain.PaymentTransaction
	listErr   error
	updateErr error
	touched   map[uuid.UUID]int
	updates   int
}

func newFakeStore(txs ...*domain.PaymentTransaction) *fakeStore {
	s := &fakeStore{
		txs:     make(map[uuid.UUID]*domain.PaymentTransaction),
		touched: make(map[uuid.UUID]int),
	}
	for _, tx := range txs {
		s.txs[tx.ID] = tx
	}
	return s
}

func (s *fakeStore) GetByExternalOrderID(_ context.Context, orderID string) (*domain.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.ExternalOrderID != nil && *tx.ExternalOrderID == orderID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) UpdateStatusIfAdvancing(_ context.Context, id uuid.UUID, status domain.TransactionStatus, patch domain.StatusPatch) (*domain.PaymentTransaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, false, s.updateErr
	}
	tx, ok := s.txs[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	s.updates++
	if tx.Status.IsTerminal() || tx.Status.Rank() > status.Rank() {
		cp := *tx
		return &cp, false, nil
	}
	sameRank := tx.Status.Rank() == status.Rank()
	tx.Status = status
	if patch.ExternalStatus != nil && !(sameRank && tx.ExternalStatus != nil &&
		earlierIn(patch.ExternalOrder, *patch.ExternalStatus, *tx.ExternalStatus)) {
		tx.ExternalStatus = patch.ExternalStatus
	}
	if patch.TransactionHash != nil && tx.TransactionHash == nil {
		tx.TransactionHash = patch.TransactionHash
	}
	if patch.FailureReason != nil {
		tx.FailureReason = patch.FailureReason
	}
	if patch.WebhookAt != nil {
		tx.LastWebhookAt = patch.WebhookAt
	}
	if patch.PollAt != nil {
		tx.LastPollAt = patch.PollAt
	}
	cp := *tx
	return &cp, true, nil
}

func earlierIn(order []string, a, b string) bool {
	ia, ib := slices.Index(order, strings.ToLower(a)), slices.Index(order, strings.ToLower(b))
	return ia >= 0 && ib >= 0 && ia < ib
}

func (s *fakeStore) ListInFlight(_ context.Context, limit int) ([]domain.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.PaymentTransaction
	for _, tx := range s.txs {
		if tx.InFlight() && len(out) < limit {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (s *fakeStore) TouchPolled(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return domain.ErrNotFound
	}
	tx.LastPollAt = &at
	s.touched[id]++
	return nil
}

func (s *fakeStore) get(id uuid.UUID) domain.PaymentTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.txs[id]
}

type fakeReceipts struct {
	mu       sync.Mutex
	receipts []domain.WebhookReceipt
	err      error
}

func (f *fakeReceipts) Append(_ context.Context, rc *domain.WebhookReceipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.receipts = append(f.receipts, *rc)
	return nil
}

type fakeOrderCache struct {
	mu    sync.Mutex
	snaps map[string]domain.OrderSnapshot
}

func (f *fakeOrderCache) SetOrderStatus(_ context.Context, snap domain.OrderSnapshot, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snaps == nil {
		f.snaps = make(map[string]domain.OrderSnapshot)
	}
	f.snaps[snap.OrderID] = snap
	return nil
}

type fakeOrders struct {
	mu      sync.Mutex
	status  map[string]string
	errs    map[string]error
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeOrders) OrderStatus(ctx context.Context, orderID string) (*domain.OrderSnapshot, error) {
	f.mu.Lock()
	f.calls++
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[orderID]; ok {
		return nil, err
	}
	st, ok := f.status[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.OrderSnapshot{OrderID: orderID, Status: st, UpdatedAt: time.Now().UTC()}, nil
}

func inFlightTx(orderID string, status domain.TransactionStatus, external string) *domain.PaymentTransaction {
	tx := &domain.PaymentTransaction{
		ID:              uuid.New(),
		ClientID:        "client-1",
		Status:          status,
		ExternalOrderID: &orderID,
	}
	if external != "" {
		tx.ExternalStatus = &external
	}
	return tx
}
