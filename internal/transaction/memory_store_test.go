package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gametrust/gametrust/internal/safeperiod"
)

func TestMemoryStore_GetReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	txn := &Transaction{
		ID:         "txn_1",
		ListingID:  "lst_1",
		SellerID:   "usr_seller",
		State:      StateSafePeriod,
		SafePeriod: safeperiod.New(testStart, 48),
		CreatedAt:  testStart,
		UpdatedAt:  testStart,
	}
	if err := store.Create(ctx, txn); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	// Mutating the copy must not leak into the store.
	_ = got.SafePeriod.Extend("usr_admin", 24, testStart)
	got.State = StateReleased

	fresh, _ := store.Get(ctx, "txn_1")
	if fresh.State != StateSafePeriod || len(fresh.SafePeriod.Extensions) != 0 {
		t.Errorf("store leaked caller mutations: state=%s extensions=%d",
			fresh.State, len(fresh.SafePeriod.Extensions))
	}
}

func TestMemoryStore_UpdateOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	txn := &Transaction{ID: "txn_1", SellerID: "usr_seller", State: StateNegotiating, UpdatedAt: testStart}
	if err := store.Create(ctx, txn); err != nil {
		t.Fatal(err)
	}

	fresh := txn.Clone()
	fresh.UpdatedAt = testStart.Add(time.Second)
	if err := store.Update(ctx, fresh, testStart); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	stale := txn.Clone()
	stale.UpdatedAt = testStart.Add(2 * time.Second)
	if err := store.Update(ctx, stale, testStart); !errors.Is(err, ErrConflict) {
		t.Errorf("stale update: err = %v, want ErrConflict", err)
	}

	missing := &Transaction{ID: "txn_missing", UpdatedAt: testStart}
	if err := store.Update(ctx, missing, testStart); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing update: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ExpiryListings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	expired := &Transaction{
		ID:         "txn_expired",
		SellerID:   "usr_seller",
		State:      StateSafePeriod,
		SafePeriod: safeperiod.New(testStart, 48),
		UpdatedAt:  testStart,
	}
	running := &Transaction{
		ID:         "txn_running",
		SellerID:   "usr_seller",
		State:      StateSafePeriod,
		SafePeriod: safeperiod.New(testStart.Add(24*time.Hour), 48),
		UpdatedAt:  testStart,
	}
	_ = store.Create(ctx, expired)
	_ = store.Create(ctx, running)

	got, err := store.ListExpiredSafePeriods(ctx, testStart.Add(49*time.Hour), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "txn_expired" {
		t.Errorf("got %d expired, want just txn_expired", len(got))
	}
}
