package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
)

func newTestPoller(store *fakeStore, orders *fakeOrders, cfg PollerConfig) *Poller {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = time.Second
	}
	return NewPoller(store, orders, cfg, logging.Discard())
}

func TestPoller_RunOnce(t *testing.T) {
	advancing := inFlightTx("ord-adv", domain.StatusPending, provider.RawAwaitingDeposit)
	same := inFlightTx("ord-same", domain.StatusProcessing, provider.RawExchanging)
	failing := inFlightTx("ord-fail", domain.StatusProcessing, provider.RawExchanging)
	completing := inFlightTx("ord-done", domain.StatusProcessing, provider.RawSending)

	store := newFakeStore(advancing, same, failing, completing)
	orders := &fakeOrders{
		status: map[string]string{
			"ord-adv":  provider.RawConfirmingDeposit,
			"ord-same": provider.RawExchanging,
			"ord-done": provider.RawComplete,
		},
		errs: map[string]error{"ord-fail": domain.ErrProviderUnavailable},
	}
	p := newTestPoller(store, orders, PollerConfig{Concurrency: 2})

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 1, report.Failed)

	assert.Equal(t, domain.StatusProcessing, store.get(advancing.ID).Status)
	assert.Equal(t, domain.StatusCompleted, store.get(completing.ID).Status)
	assert.Equal(t, domain.StatusProcessing, store.get(failing.ID).Status)

	for _, tx := range []*domain.PaymentTransaction{advancing, same, failing, completing} {
		assert.NotNil(t, store.get(tx.ID).LastPollAt, "last_poll_at recorded for %s", *tx.ExternalOrderID)
	}
	assert.Equal(t, 1, store.touched[same.ID], "unchanged status only touches poll time")

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.PollsRun)
	assert.Equal(t, int64(2), stats.SuccessfulUpdates)
	assert.Equal(t, int64(1), stats.FailedLookups)
	assert.Contains(t, stats.LastError, "ord-fail")
	assert.NotNil(t, stats.LastCycleAt)
}

func TestPoller_SkipsUnchangedRawStatus(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusProcessing, provider.RawExchanging)
	store := newFakeStore(tx)
	orders := &fakeOrders{status: map[string]string{"ord-1": provider.RawExchanging}}
	p := newTestPoller(store, orders, PollerConfig{})

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)
	assert.Zero(t, store.updates, "no update attempt when the raw status has not moved")
}

func TestPoller_StaleResultAfterWebhook(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusProcessing, provider.RawExchanging)
	store := newFakeStore(tx)
	ing, _, _ := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), update("ord-1", provider.RawComplete))
	require.NoError(t, err)

	orders := &fakeOrders{status: map[string]string{"ord-1": provider.RawExchanging}}
	p := newTestPoller(store, orders, PollerConfig{})

	// The poll cycle listed the row before the webhook landed, so it still
	// holds the earlier provider status.
	stale := inFlightTx("ord-1", domain.StatusProcessing, provider.RawConfirmingDeposit)
	stale.ID = tx.ID
	outcome, err := p.reconcile(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, "stale", outcome)
	assert.Equal(t, domain.StatusCompleted, store.get(tx.ID).Status)
	assert.NotNil(t, store.get(tx.ID).LastPollAt)
}

func TestPoller_ListFailure(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("db down")
	p := newTestPoller(store, &fakeOrders{}, PollerConfig{})

	_, err := p.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Contains(t, p.Stats().LastError, "db down")
	assert.Zero(t, p.Stats().PollsRun)
}

func TestPoller_LaggingRawStatusKeepsNewer(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusProcessing, provider.RawSending)
	store := newFakeStore(tx)
	orders := &fakeOrders{status: map[string]string{"ord-1": provider.RawExchanging}}
	p := newTestPoller(store, orders, PollerConfig{})

	for range 2 {
		report, err := p.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Unchanged)
	}
	assert.Zero(t, store.updates)
	assert.Equal(t, provider.RawSending, *store.get(tx.ID).ExternalStatus)
	assert.Equal(t, 2, store.touched[tx.ID])
}

func TestPoller_LaggingRawStatusRacingWebhook(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusProcessing, provider.RawConfirmingDeposit)
	store := newFakeStore(tx)
	ing, _, _ := newTestIngestor(store)

	// Listed at Confirming Deposit; a Sending webhook lands before the lookup.
	listed := *tx
	_, err := ing.Ingest(context.Background(), update("ord-1", provider.RawSending))
	require.NoError(t, err)

	orders := &fakeOrders{status: map[string]string{"ord-1": provider.RawExchanging}}
	p := newTestPoller(store, orders, PollerConfig{})

	_, err = p.reconcile(context.Background(), &listed)
	require.NoError(t, err)
	assert.Equal(t, provider.RawSending, *store.get(tx.ID).ExternalStatus)
	assert.NotNil(t, store.get(tx.ID).LastPollAt)
}

func TestPoller_UpdateFailureStillRecordsPollTime(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusPending, provider.RawAwaitingDeposit)
	store := newFakeStore(tx)
	store.updateErr = errors.New("db down")
	orders := &fakeOrders{status: map[string]string{"ord-1": provider.RawExchanging}}
	p := newTestPoller(store, orders, PollerConfig{})

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, store.touched[tx.ID])
	assert.NotNil(t, store.get(tx.ID).LastPollAt)
	assert.Equal(t, domain.StatusPending, store.get(tx.ID).Status)
	assert.Contains(t, p.Stats().LastError, "db down")
}

func TestPoller_OverlappingCycleIsSkipped(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusPending, "")
	store := newFakeStore(tx)
	orders := &fakeOrders{
		status:  map[string]string{"ord-1": provider.RawExchanging},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	p := newTestPoller(store, orders, PollerConfig{CallTimeout: 5 * time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := p.RunOnce(context.Background())
		done <- err
	}()

	select {
	case <-orders.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never reached the provider")
	}

	_, err := p.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrPollInProgress)
	assert.True(t, p.Stats().Running)

	close(orders.block)
	require.NoError(t, <-done)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.PollsRun)
	assert.Equal(t, int64(1), stats.CyclesSkipped)
	assert.False(t, stats.Running)
}

func TestPoller_CallTimeoutCountsAsFailure(t *testing.T) {
	tx := inFlightTx("ord-1", domain.StatusPending, "")
	store := newFakeStore(tx)
	orders := &fakeOrders{
		status: map[string]string{"ord-1": provider.RawExchanging},
		block:  make(chan struct{}),
	}
	p := newTestPoller(store, orders, PollerConfig{CallTimeout: 50 * time.Millisecond})

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, domain.StatusPending, store.get(tx.ID).Status)
	assert.Equal(t, 1, store.touched[tx.ID])
}

func TestPoller_StopsOnCancel(t *testing.T) {
	p := newTestPoller(newFakeStore(), &fakeOrders{}, PollerConfig{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return p.Stats().PollsRun > 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}
