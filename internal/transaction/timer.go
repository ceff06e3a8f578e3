package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gametrust/gametrust/internal/clock"
	"github.com/gametrust/gametrust/internal/idgen"
	"github.com/gametrust/gametrust/internal/metrics"
)

// DefaultReminderInterval is how often an unresolved expired safe period is
// re-announced to its admin.
const DefaultReminderInterval = 6 * time.Hour

// Timer periodically sweeps for lapsed deadlines.
//
// It never resolves a safe period: funds move only on an explicit admin call,
// so all it does for expired safe periods is emit reminder events. Lapsed
// protection plans are flipped to expired here; that transition is lazy and
// any mutating operation applies it too, so the sweep is a latency
// optimization, not a correctness requirement.
type Timer struct {
	service  *Service
	store    Store
	clk      clock.Clock
	interval time.Duration
	reminder time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool

	// lastNotified tracks when each expired safe period was last announced.
	lastNotified map[string]time.Time
}

// NewTimer creates a new deadline sweeper.
func NewTimer(service *Service, store Store, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Timer{
		service:      service,
		store:        store,
		clk:          clk,
		interval:     interval,
		reminder:     DefaultReminderInterval,
		logger:       logger,
		stop:         make(chan struct{}),
		lastNotified: make(map[string]time.Time),
	}
}

// Running reports whether the sweep loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in deadline sweeper", "panic", fmt.Sprint(r))
			metrics.SweepRunsTotal.WithLabelValues("panic").Inc()
		}
	}()
	t.Sweep(ctx)
}

// Sweep runs one sweep iteration. Exported so tests and operational tooling
// can trigger it without the ticker.
func (t *Timer) Sweep(ctx context.Context) {
	now := t.clk.Now()
	ok := true

	if err := t.remindExpiredSafePeriods(ctx, now); err != nil {
		t.logger.Warn("failed to sweep expired safe periods", "error", err)
		ok = false
	}
	if err := t.expireLapsedProtection(ctx, now); err != nil {
		t.logger.Warn("failed to sweep lapsed protection plans", "error", err)
		ok = false
	}

	if ok {
		metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
	}
}

func (t *Timer) remindExpiredSafePeriods(ctx context.Context, now time.Time) error {
	expired, err := t.store.ListExpiredSafePeriods(ctx, now, 100)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(expired))
	for _, txn := range expired {
		seen[txn.ID] = true
		if last, ok := t.lastNotified[txn.ID]; ok && now.Sub(last) < t.reminder {
			continue
		}
		t.lastNotified[txn.ID] = now

		if t.service.events != nil {
			t.service.events.Publish(ctx, Event{
				ID:            idgen.WithPrefix("evt_"),
				Type:          EventSafePeriodExpiring,
				TransactionID: txn.ID,
				ListingID:     txn.ListingID,
				State:         txn.State,
				Recipients:    txn.Participants(),
				At:            now,
				Data: map[string]any{
					"deadline": txn.SafePeriod.Deadline(),
				},
			})
		}
		t.logger.Info("safe period expired, awaiting admin resolution",
			"transactionId", txn.ID,
			"deadline", txn.SafePeriod.Deadline(),
			"admin", txn.AdminID,
		)
	}

	// Drop bookkeeping for transactions that have since been resolved.
	for id := range t.lastNotified {
		if !seen[id] {
			delete(t.lastNotified, id)
		}
	}
	return nil
}

func (t *Timer) expireLapsedProtection(ctx context.Context, now time.Time) error {
	lapsed, err := t.store.ListExpiredProtection(ctx, now, 100)
	if err != nil {
		return err
	}

	for _, txn := range lapsed {
		if _, err := t.service.ExpireProtection(ctx, txn.ID); err != nil {
			// A concurrent redeem or an earlier sweep may have beaten us.
			t.logger.Debug("skipping protection expiry",
				"transactionId", txn.ID, "error", err)
			continue
		}
		t.logger.Info("protection plan expired",
			"transactionId", txn.ID,
			"expiry", txn.Protection.Expiry(),
		)
	}
	return nil
}
