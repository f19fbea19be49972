package repository

import (
	"context"
	"database/sql"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/testutil"
)

func strPtr(s string) *string { return &s }

func createTx(t *testing.T, repo *TransactionRepository, orderID string) *domain.PaymentTransaction {
	t.Helper()
	tx := testutil.NewTransaction()
	if orderID != "" {
		testutil.WithOrder(tx, orderID)
	}
	require.NoError(t, repo.Create(context.Background(), tx))
	return tx
}

func TestTransactionRepository(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTransactionRepository(db)

	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		tx := testutil.NewTransaction()
		rate := decimal.RequireFromString("0.92")
		tx.TargetCurrency = "EUR"
		tx.ConversionRate = &rate
		tx.Status = domain.StatusCompleted

		require.NoError(t, repo.Create(ctx, tx))

		got, err := repo.GetByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status, "create always stores pending")
		assert.Equal(t, tx.ClientID, got.ClientID)
		assert.True(t, got.Amount.Equal(tx.Amount))
		assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("1006.00")))
		assert.True(t, got.Fees.ManagementFeeBuyerShare.Equal(decimal.RequireFromString("5.00")))
		require.NotNil(t, got.ConversionRate)
		assert.True(t, got.ConversionRate.Equal(rate))
		assert.Nil(t, got.ExternalOrderID)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.GetByID(context.Background(), uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = repo.GetByExternalOrderID(context.Background(), "ord-nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("get by external order id", func(t *testing.T) {
		orderID := "ord-" + uuid.NewString()
		tx := createTx(t, repo, orderID)

		got, err := repo.GetByExternalOrderID(context.Background(), orderID)
		require.NoError(t, err)
		assert.Equal(t, tx.ID, got.ID)
	})

	t.Run("duplicate external order id", func(t *testing.T) {
		orderID := "ord-" + uuid.NewString()
		createTx(t, repo, orderID)

		dup := testutil.WithOrder(testutil.NewTransaction(), orderID)
		err := repo.Create(context.Background(), dup)
		assert.ErrorIs(t, err, domain.ErrOrderAlreadyAssigned)
	})
}

func TestUpdateStatusIfAdvancing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	t.Run("advances through lifecycle", func(t *testing.T) {
		tx := createTx(t, repo, "ord-"+uuid.NewString())

		got, applied, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusProcessing,
			domain.StatusPatch{ExternalStatus: strPtr("Exchanging")})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, domain.StatusProcessing, got.Status)
		assert.Equal(t, "Exchanging", *got.ExternalStatus)
		assert.Nil(t, got.CompletedAt)

		got, applied, err = repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusCompleted,
			domain.StatusPatch{ExternalStatus: strPtr("Complete"), TransactionHash: strPtr("0xabc")})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.Equal(t, "0xabc", *got.TransactionHash)
	})

	t.Run("regression is a no-op", func(t *testing.T) {
		tx := createTx(t, repo, "ord-"+uuid.NewString())
		_, _, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusProcessing, domain.StatusPatch{})
		require.NoError(t, err)

		got, applied, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusPending,
			domain.StatusPatch{ExternalStatus: strPtr("Awaiting Deposit")})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, domain.StatusProcessing, got.Status)
		assert.Nil(t, got.ExternalStatus, "stale update must not merge metadata")
	})

	t.Run("terminal is final", func(t *testing.T) {
		tx := createTx(t, repo, "ord-"+uuid.NewString())
		_, applied, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusCompleted, domain.StatusPatch{})
		require.NoError(t, err)
		require.True(t, applied)

		for _, s := range []domain.TransactionStatus{domain.StatusFailed, domain.StatusCancelled, domain.StatusCompleted, domain.StatusProcessing} {
			got, applied, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, s, domain.StatusPatch{FailureReason: strPtr("late")})
			require.NoError(t, err)
			assert.False(t, applied, s)
			assert.Equal(t, domain.StatusCompleted, got.Status)
			assert.Nil(t, got.FailureReason)
		}
	})

	t.Run("same rank merges metadata without touching updated_at", func(t *testing.T) {
		tx := createTx(t, repo, "ord-"+uuid.NewString())
		first, _, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusProcessing,
			domain.StatusPatch{ExternalStatus: strPtr("Confirming Deposit"), BankReference: strPtr("REF-1")})
		require.NoError(t, err)

		webhookAt := time.Now().UTC().Truncate(time.Microsecond)
		second, applied, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusProcessing,
			domain.StatusPatch{ExternalStatus: strPtr("Sending"), BankReference: strPtr("REF-2"), WebhookAt: &webhookAt})
		require.NoError(t, err)
		assert.True(t, applied)

		assert.Equal(t, "Sending", *second.ExternalStatus, "newest external status wins")
		assert.Equal(t, "REF-1", *second.BankReference, "bank reference is set once")
		require.NotNil(t, second.LastWebhookAt)
		assert.True(t, second.LastWebhookAt.Equal(webhookAt))
		assert.True(t, second.UpdatedAt.Equal(first.UpdatedAt))
	})

	t.Run("same rank keeps the later raw status", func(t *testing.T) {
		tx := createTx(t, repo, "ord-"+uuid.NewString())
		order := []string{"awaiting deposit", "confirming deposit", "exchanging", "sending", "complete"}

		_, _, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusProcessing,
			domain.StatusPatch{ExternalStatus: strPtr("Sending"), ExternalOrder: order})
		require.NoError(t, err)

		pollAt := time.Now().UTC().Truncate(time.Microsecond)
		got, applied, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusProcessing,
			domain.StatusPatch{ExternalStatus: strPtr("Exchanging"), PollAt: &pollAt, ExternalOrder: order})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, "Sending", *got.ExternalStatus)
		require.NotNil(t, got.LastPollAt)
		assert.True(t, got.LastPollAt.Equal(pollAt))

		got, _, err = repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusProcessing,
			domain.StatusPatch{ExternalStatus: strPtr("Refunding"), ExternalOrder: order})
		require.NoError(t, err)
		assert.Equal(t, "Refunding", *got.ExternalStatus, "statuses off the path still merge")
	})

	t.Run("idempotent repeat", func(t *testing.T) {
		tx := createTx(t, repo, "ord-"+uuid.NewString())
		patch := domain.StatusPatch{ExternalStatus: strPtr("Exchanging")}

		once, _, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusProcessing, patch)
		require.NoError(t, err)
		twice, _, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.StatusProcessing, patch)
		require.NoError(t, err)

		assert.Equal(t, once.Status, twice.Status)
		assert.Equal(t, *once.ExternalStatus, *twice.ExternalStatus)
		assert.True(t, once.UpdatedAt.Equal(twice.UpdatedAt))
	})

	t.Run("not found", func(t *testing.T) {
		_, _, err := repo.UpdateStatusIfAdvancing(ctx, uuid.New(), domain.StatusProcessing, domain.StatusPatch{})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("invalid status", func(t *testing.T) {
		tx := createTx(t, repo, "")
		_, _, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, domain.TransactionStatus("refunded"), domain.StatusPatch{})
		assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	})
}

// Webhook and poller race on the same row; whatever the interleaving, the
// stored rank never drops and a terminal status survives everything after it.
func TestUpdateStatusIfAdvancing_ConcurrentMonotonic(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	for round := range 5 {
		tx := createTx(t, repo, "ord-"+uuid.NewString())

		updates := []domain.TransactionStatus{
			domain.StatusPending, domain.StatusProcessing, domain.StatusProcessing,
			domain.StatusCompleted, domain.StatusPending, domain.StatusProcessing,
		}
		rand.Shuffle(len(updates), func(i, j int) { updates[i], updates[j] = updates[j], updates[i] })

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied []domain.TransactionStatus
		)
		for _, s := range updates {
			wg.Add(1)
			go func(s domain.TransactionStatus) {
				defer wg.Done()
				_, ok, err := repo.UpdateStatusIfAdvancing(ctx, tx.ID, s, domain.StatusPatch{})
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					applied = append(applied, s)
					mu.Unlock()
				}
			}(s)
		}
		wg.Wait()

		assert.Equal(t, domain.StatusCompleted, testutil.GetTransactionStatus(t, db, tx.ID), "round %d", round)

		terminal := 0
		for _, s := range applied {
			if s.IsTerminal() {
				terminal++
			}
		}
		assert.Equal(t, 1, terminal, "round %d: exactly one terminal update applies", round)
	}
}

func TestListInFlight(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	noOrder := createTx(t, repo, "")
	pending := createTx(t, repo, "ord-pending")
	processing := createTx(t, repo, "ord-processing")
	done := createTx(t, repo, "ord-done")

	_, _, err := repo.UpdateStatusIfAdvancing(ctx, processing.ID, domain.StatusProcessing, domain.StatusPatch{})
	require.NoError(t, err)
	_, _, err = repo.UpdateStatusIfAdvancing(ctx, done.ID, domain.StatusFailed, domain.StatusPatch{FailureReason: strPtr("expired quote")})
	require.NoError(t, err)

	require.NoError(t, repo.TouchPolled(ctx, pending.ID, time.Now()))

	got, err := repo.ListInFlight(ctx, 100)
	require.NoError(t, err)

	ids := make([]uuid.UUID, 0, len(got))
	for _, tx := range got {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []uuid.UUID{processing.ID, pending.ID}, ids, "never-polled first, terminal and unassigned excluded")
	assert.NotContains(t, ids, noOrder.ID)
	assert.NotContains(t, ids, done.ID)

	limited, err := repo.ListInFlight(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSetExternalOrderID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	tx := createTx(t, repo, "")
	require.NoError(t, repo.SetExternalOrderID(ctx, tx.ID, "ord-1"))
	require.NoError(t, repo.SetExternalOrderID(ctx, tx.ID, "ord-1"), "same order is a no-op")

	err := repo.SetExternalOrderID(ctx, tx.ID, "ord-2")
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyAssigned)

	other := createTx(t, repo, "")
	err = repo.SetExternalOrderID(ctx, other.ID, "ord-1")
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyAssigned)

	err = repo.SetExternalOrderID(ctx, uuid.New(), "ord-3")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := repo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", *got.ExternalOrderID)
}

func TestListByClient(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	clientID := "client-list"
	for range 3 {
		tx := testutil.NewTransaction()
		tx.ClientID = clientID
		require.NoError(t, repo.Create(ctx, tx))
	}
	createTx(t, repo, "")

	page, total, err := repo.ListByClient(ctx, clientID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	rest, _, err := repo.ListByClient(ctx, clientID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestTouchPolled_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTransactionRepository(db)

	err := repo.TouchPolled(context.Background(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}
