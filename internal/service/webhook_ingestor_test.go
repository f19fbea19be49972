package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
)

func newTestIngestor(store *fakeStore) (*WebhookIngestor, *fakeReceipts, *fakeOrderCache) {
	receipts := &fakeReceipts{}
	orders := &fakeOrderCache{}
	return NewWebhookIngestor(store, receipts, orders, 30*time.Second, logging.Discard()), receipts, orders
}

func update(orderID, status string) OrderUpdate {
	raw, _ := json.Marshal(map[string]string{"order_id": orderID, "status": status})
	return OrderUpdate{OrderID: orderID, Status: status, UpdatedAt: time.Now().UTC(), Raw: raw}
}

func TestIngest_Transitions(t *testing.T) {
	tests := []struct {
		name        string
		stored      domain.TransactionStatus
		raw         string
		wantStatus  domain.TransactionStatus
		wantOutcome domain.WebhookOutcome
	}{
		{"pending to processing", domain.StatusPending, provider.RawExchanging, domain.StatusProcessing, domain.WebhookOutcomeApplied},
		{"processing to completed", domain.StatusProcessing, provider.RawComplete, domain.StatusCompleted, domain.WebhookOutcomeApplied},
		{"pending straight to failed", domain.StatusPending, provider.RawFailed, domain.StatusFailed, domain.WebhookOutcomeApplied},
		{"refunded is cancelled", domain.StatusProcessing, provider.RawRefunded, domain.StatusCancelled, domain.WebhookOutcomeApplied},
		{"same rank repeat", domain.StatusProcessing, provider.RawSending, domain.StatusProcessing, domain.WebhookOutcomeApplied},
		{"regression ignored", domain.StatusProcessing, provider.RawAwaitingDeposit, domain.StatusProcessing, domain.WebhookOutcomeStale},
		{"terminal is final", domain.StatusCompleted, provider.RawFailed, domain.StatusCompleted, domain.WebhookOutcomeStale},
		{"unknown status maps to pending", domain.StatusPending, "Teleporting", domain.StatusPending, domain.WebhookOutcomeApplied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := inFlightTx("ord-1", tt.stored, "")
			store := newFakeStore(tx)
			ing, receipts, _ := newTestIngestor(store)

			res, err := ing.Ingest(context.Background(), update("ord-1", tt.raw))
			require.NoError(t, err)

			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantStatus, store.get(tx.ID).Status)

			require.Len(t, receipts.receipts, 1)
			assert.Equal(t, tt.wantOutcome, receipts.receipts[0].Outcome)
			assert.Equal(t, tt.raw, receipts.receipts[0].RawStatus)
		})
	}
}

func TestIngest_UntrackedOrderIsAcknowledged(t *testing.T) {
	store := newFakeStore()
	ing, receipts, _ := newTestIngestor(store)

	res, err := ing.Ingest(context.Background(), update("ord-unknown", provider.RawComplete))
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookOutcomeUntracked, res.Outcome)
	assert.Empty(t, receipts.receipts)
	assert.Zero(t, store.updates)
}

func TestIngest_MergesMetadata(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusProcessing, provider.RawExchanging)
	store := newFakeStore(tx)
	ing, _, orders := newTestIngestor(store)

	u := update("ord-1", provider.RawComplete)
	u.TxHash = "0xabc"
	res, err := ing.Ingest(context.Background(), u)
	require.NoError(t, err)
	require.Equal(t, domain.WebhookOutcomeApplied, res.Outcome)

	got := store.get(tx.ID)
	require.NotNil(t, got.TransactionHash)
	assert.Equal(t, "0xabc", *got.TransactionHash)
	require.NotNil(t, got.ExternalStatus)
	assert.Equal(t, provider.RawComplete, *got.ExternalStatus)
	assert.NotNil(t, got.LastWebhookAt)

	snap, ok := orders.snaps["ord-1"]
	require.True(t, ok, "applied webhook should refresh the order snapshot cache")
	assert.Equal(t, provider.RawComplete, snap.Status)
}

func TestIngest_StaleDoesNotRefreshCache(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusCompleted, provider.RawComplete)
	store := newFakeStore(tx)
	ing, _, orders := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), update("ord-1", provider.RawExchanging))
	require.NoError(t, err)
	assert.Empty(t, orders.snaps)
}

func TestIngest_StoreFailureIsReturned(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusPending, "")
	store := newFakeStore(tx)
	store.updateErr = errors.New("connection reset")
	ing, receipts, _ := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), update("ord-1", provider.RawComplete))
	assert.Error(t, err)
	assert.Empty(t, receipts.receipts)
}

func TestIngest_ReceiptFailureDoesNotFailIngest(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusPending, "")
	store := newFakeStore(tx)
	ing, receipts, _ := newTestIngestor(store)
	receipts.err = errors.New("disk full")

	res, err := ing.Ingest(context.Background(), update("ord-1", provider.RawComplete))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
}
