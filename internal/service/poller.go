package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/metrics"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
)

type PollerConfig struct {
	Interval    time.Duration
	CallDelay   time.Duration
	CallTimeout time.Duration
	Concurrency int
	BatchSize   int
}

// PollerStats is a point-in-time copy of the poller's counters.
type PollerStats struct {
	PollsRun          int64      `json:"polls_run"`
	CyclesSkipped     int64      `json:"cycles_skipped"`
	SuccessfulUpdates int64      `json:"successful_updates"`
	FailedLookups     int64      `json:"failed_lookups"`
	LastError         string     `json:"last_error,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	LastCycleAt       *time.Time `json:"last_cycle_at,omitempty"`
	LastCycleDuration string     `json:"last_cycle_duration,omitempty"`
	Running           bool       `json:"running"`
}

// CycleReport summarises one poll cycle.
type CycleReport struct {
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Stale     int `json:"stale"`
	Failed    int `json:"failed"`
}

type Poller struct {
	store   transactionStore
	orders  orderSource
	cfg     PollerConfig
	logger  *slog.Logger
	now     func() time.Time
	running atomic.Bool

	mu    sync.Mutex
	stats PollerStats
}

func NewPoller(store transactionStore, orders orderSource, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Poller{
		store:  store,
		orders: orders,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("reconciliation poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
		"call_delay", p.cfg.CallDelay,
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reconciliation poller stopped")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, domain.ErrPollInProgress) {
				p.logger.Error("poll cycle failed", "error", err)
			}
		}
	}
}

// RunOnce runs a single cycle over every in-flight transaction. It returns
// ErrPollInProgress without doing any work if another cycle is running.
func (p *Poller) RunOnce(ctx context.Context) (*CycleReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		metrics.PollCyclesSkipped.Inc()
		p.mu.Lock()
		p.stats.CyclesSkipped++
		p.mu.Unlock()
		p.logger.Warn("poll cycle skipped, previous cycle still running")
		return nil, domain.ErrPollInProgress
	}
	defer p.running.Store(false)

	started := p.now()
	txs, err := p.store.ListInFlight(ctx, p.cfg.BatchSize)
	if err != nil {
		p.recordError(err)
		return nil, fmt.Errorf("RunOnce: %w", err)
	}
	metrics.InFlightTransactions.Set(float64(len(txs)))

	var updated, unchanged, stale, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)

	for i := range txs {
		if i > 0 && !p.wait(ctx) {
			break
		}
		tx := txs[i]
		g.Go(func() error {
			outcome, err := p.reconcile(ctx, &tx)
			if err != nil {
				failed.Add(1)
				return nil
			}
			switch outcome {
			case metrics.OutcomeApplied:
				updated.Add(1)
			case metrics.OutcomeStale:
				stale.Add(1)
			default:
				unchanged.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &CycleReport{
		Checked:   int(updated.Load() + unchanged.Load() + stale.Load() + failed.Load()),
		Updated:   int(updated.Load()),
		Unchanged: int(unchanged.Load()),
		Stale:     int(stale.Load()),
		Failed:    int(failed.Load()),
	}

	finished := p.now().UTC()
	elapsed := finished.Sub(started)
	metrics.PollCycles.Inc()

	p.mu.Lock()
	p.stats.PollsRun++
	p.stats.SuccessfulUpdates += int64(report.Updated)
	p.stats.FailedLookups += int64(report.Failed)
	p.stats.LastCycleAt = &finished
	p.stats.LastCycleDuration = elapsed.String()
	p.mu.Unlock()

	p.logger.Info("poll cycle finished",
		"in_flight", len(txs),
		"checked", report.Checked,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"stale", report.Stale,
		"failed", report.Failed,
		"duration", elapsed,
	)
	return report, nil
}

func (p *Poller) Stats() PollerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Running = p.running.Load()
	return s
}

func (p *Poller) wait(ctx context.Context) bool {
	if p.cfg.CallDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(p.cfg.CallDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// reconcile checks one transaction against the provider. Any error is
// contained here; last_poll_at is recorded whatever the outcome.
func (p *Poller) reconcile(ctx context.Context, tx *domain.PaymentTransaction) (string, error) {
	log := p.logger.With("stage", "poll", "transaction_id", tx.ID)
	if tx.ExternalOrderID == nil {
		return metrics.OutcomeUnchanged, nil
	}
	orderID := *tx.ExternalOrderID
	log = log.With("external_order_id", orderID)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	snap, err := p.orders.OrderStatus(callCtx, orderID)
	cancel()
	polledAt := p.now().UTC()

	if err != nil {
		metrics.PollLookupFailures.Inc()
		metrics.StatusUpdates.WithLabelValues("poll", metrics.OutcomeError).Inc()
		log.Warn("provider order lookup failed", "error", err)
		p.recordError(fmt.Errorf("order %s: %w", orderID, err))
		p.touch(ctx, log, tx, polledAt)
		return "", err
	}
	log = log.With("raw_status", snap.Status)

	if tx.ExternalStatus != nil && *tx.ExternalStatus == snap.Status {
		metrics.StatusUpdates.WithLabelValues("poll", metrics.OutcomeUnchanged).Inc()
		p.touch(ctx, log, tx, polledAt)
		return metrics.OutcomeUnchanged, nil
	}

	mapped, known := provider.MapStatus(snap.Status)
	if !known {
		log.Warn("unknown provider status mapped to pending")
	}
	if mapped == tx.Status && tx.ExternalStatus != nil && provider.Precedes(snap.Status, *tx.ExternalStatus) {
		metrics.StatusUpdates.WithLabelValues("poll", metrics.OutcomeUnchanged).Inc()
		log.Debug("provider reported an earlier status than stored", "stored_raw_status", *tx.ExternalStatus)
		p.touch(ctx, log, tx, polledAt)
		return metrics.OutcomeUnchanged, nil
	}

	patch := domain.StatusPatch{
		ExternalStatus: &snap.Status,
		PollAt:         &polledAt,
		ExternalOrder:  provider.Progression(),
	}
	if snap.TxHash != "" {
		patch.TransactionHash = &snap.TxHash
	}
	if snap.FailureReason != "" {
		patch.FailureReason = &snap.FailureReason
	}

	updated, applied, err := p.store.UpdateStatusIfAdvancing(ctx, tx.ID, mapped, patch)
	if err != nil {
		metrics.StatusUpdates.WithLabelValues("poll", metrics.OutcomeError).Inc()
		log.Error("poll status update failed", "mapped_status", mapped, "error", err)
		p.recordError(fmt.Errorf("update %s: %w", tx.ID, err))
		p.touch(ctx, log, tx, polledAt)
		return "", err
	}
	if !applied {
		metrics.StatusUpdates.WithLabelValues("poll", metrics.OutcomeStale).Inc()
		log.Debug("stale poll result ignored", "stored_status", updated.Status, "mapped_status", mapped)
		p.touch(ctx, log, tx, polledAt)
		return metrics.OutcomeStale, nil
	}

	metrics.StatusUpdates.WithLabelValues("poll", metrics.OutcomeApplied).Inc()
	log.Info("poll status applied", "from_status", tx.Status, "to_status", updated.Status)
	return metrics.OutcomeApplied, nil
}

func (p *Poller) touch(ctx context.Context, log *slog.Logger, tx *domain.PaymentTransaction, at time.Time) {
	if err := p.store.TouchPolled(ctx, tx.ID, at); err != nil {
		log.Warn("failed to record poll time", "error", err)
	}
}

func (p *Poller) recordError(err error) {
	at := p.now().UTC()
	p.mu.Lock()
	p.stats.LastError = err.Error()
	p.stats.LastErrorAt = &at
	p.mu.Unlock()
}
