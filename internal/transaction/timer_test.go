package transaction

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/gametrust/gametrust/internal/safeperiod"
)

func TestTimer_SafePeriodReminderNeverResolves(t *testing.T) {
	f := newFixture(t)
	txn := f.create(t)
	f.toSafePeriod(t, txn.ID)
	ctx := context.Background()

	timer := NewTimer(f.service, f.store, f.clk, time.Second, slog.Default())

	// Before the deadline nothing is announced.
	timer.Sweep(ctx)
	if f.events.has(EventSafePeriodExpiring) {
		t.Fatal("expiring event emitted before the deadline")
	}

	f.clk.Advance(49 * time.Hour)
	timer.Sweep(ctx)
	if !f.events.has(EventSafePeriodExpiring) {
		t.Fatal("missing expiring event after the deadline")
	}
	got, _ := f.service.Get(ctx, txn.ID)
	if got.State != StateSafePeriod || got.SafePeriod.Resolved() {
		t.Errorf("sweep must never resolve: state=%s outcome=%s", got.State, got.SafePeriod.Outcome)
	}

	// A second sweep inside the reminder interval stays silent.
	before := len(f.events.types())
	timer.Sweep(ctx)
	if after := len(f.events.types()); after != before {
		t.Errorf("re-announced within reminder interval: %d -> %d events", before, after)
	}

	// Past the reminder interval the announcement repeats.
	f.clk.Advance(DefaultReminderInterval)
	timer.Sweep(ctx)
	if after := len(f.events.types()); after != before+1 {
		t.Errorf("expected one reminder after interval, got %d -> %d events", before, after)
	}
}

func TestTimer_ReminderBookkeepingClearedOnResolve(t *testing.T) {
	f := newFixture(t)
	txn := f.create(t)
	f.toSafePeriod(t, txn.ID)
	ctx := context.Background()

	timer := NewTimer(f.service, f.store, f.clk, time.Second, slog.Default())
	f.clk.Advance(49 * time.Hour)
	timer.Sweep(ctx)
	if len(timer.lastNotified) != 1 {
		t.Fatalf("lastNotified has %d entries, want 1", len(timer.lastNotified))
	}

	if _, err := f.service.ResolveSafePeriod(ctx, txn.ID, "usr_admin", safeperiod.OutcomeReleased); err != nil {
		t.Fatal(err)
	}
	timer.Sweep(ctx)
	if len(timer.lastNotified) != 0 {
		t.Errorf("lastNotified not pruned after resolution: %d entries", len(timer.lastNotified))
	}
}

func TestTimer_ExpiresLapsedProtection(t *testing.T) {
	f := newFixture(t)
	txn := f.create(t)
	f.toReleased(t, txn.ID)
	ctx := context.Background()
	if _, err := f.service.PurchaseProtection(ctx, txn.ID, "usr_buyer"); err != nil {
		t.Fatal(err)
	}

	timer := NewTimer(f.service, f.store, f.clk, time.Second, slog.Default())

	f.clk.Advance(9 * 24 * time.Hour)
	timer.Sweep(ctx)
	got, _ := f.service.Get(ctx, txn.ID)
	if got.State != StateProtectionActive {
		t.Fatalf("sweep expired an active plan: state=%s", got.State)
	}

	f.clk.Advance(2 * 24 * time.Hour)
	timer.Sweep(ctx)
	got, _ = f.service.Get(ctx, txn.ID)
	if got.State != StateExpired {
		t.Errorf("state = %s, want expired after lapse", got.State)
	}
	if !f.events.has(EventPlanExpired) {
		t.Error("missing plan expired event")
	}
}

func TestTimer_StartStop(t *testing.T) {
	f := newFixture(t)
	timer := NewTimer(f.service, f.store, f.clk, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for !timer.Running() {
		select {
		case <-deadline:
			t.Fatal("timer never reported running")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not stop after context cancellation")
	}
	if timer.Running() {
		t.Error("timer still reports running after stop")
	}
}
