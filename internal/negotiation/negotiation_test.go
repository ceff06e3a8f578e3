package negotiation

import (
	"context"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newThread() *Thread {
	return &Thread{TransactionID: "txn_1"}
}

func TestThread_OfferCounterAccept(t *testing.T) {
	th := newThread()

	offer, err := th.Offer(RoleSeller, "150", t0)
	if err != nil {
		t.Fatalf("seller Offer failed: %v", err)
	}
	if offer.Kind != KindOffer {
		t.Errorf("seller offer kind = %s, want offer", offer.Kind)
	}

	counter, err := th.Offer(RoleAdmin, "120", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("admin Offer failed: %v", err)
	}
	if counter.Kind != KindCounterOffer {
		t.Errorf("admin offer kind = %s, want counter_offer", counter.Kind)
	}

	accept, err := th.Accept(RoleSeller, "120", t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if accept.Kind != KindAccept || accept.Amount != "120" {
		t.Errorf("accept = %s/%s, want accept/120", accept.Kind, accept.Amount)
	}
	if !th.Closed() {
		t.Error("thread must be closed after accept")
	}
}

func TestAccept_StaleAmountMismatch(t *testing.T) {
	th := newThread()
	_, _ = th.Offer(RoleSeller, "150", t0)
	_, _ = th.Offer(RoleAdmin, "120", t0.Add(time.Minute))

	// Seller tries to accept the original 150 while admin's 120 is pending.
	if _, err := th.Accept(RoleSeller, "150", t0.Add(2*time.Minute)); err != ErrAmountMismatch {
		t.Errorf("Accept(150) = %v, want ErrAmountMismatch", err)
	}
	if th.Closed() {
		t.Error("failed accept must not close the thread")
	}
}

func TestAccept_OwnOfferRejected(t *testing.T) {
	th := newThread()
	_, _ = th.Offer(RoleSeller, "150", t0)

	// Seller cannot accept their own offer.
	if _, err := th.Accept(RoleSeller, "150", t0.Add(time.Minute)); err != ErrAmountMismatch {
		t.Errorf("Accept of own offer = %v, want ErrAmountMismatch", err)
	}

	// The admin accepting the seller's offer is fine.
	if _, err := th.Accept(RoleAdmin, "150", t0.Add(time.Minute)); err != nil {
		t.Errorf("admin Accept failed: %v", err)
	}
}

func TestAccept_NoPendingOffer(t *testing.T) {
	th := newThread()
	_, _ = th.Post(RoleSeller, "fresh account, rare skins", t0)

	if _, err := th.Accept(RoleAdmin, "100", t0.Add(time.Minute)); err != ErrAmountMismatch {
		t.Errorf("Accept with no offers = %v, want ErrAmountMismatch", err)
	}
}

func TestAccept_EquivalentDecimalForms(t *testing.T) {
	th := newThread()
	_, _ = th.Offer(RoleSeller, "150.00", t0)

	accept, err := th.Accept(RoleAdmin, "150", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Accept(150) against 150.00 failed: %v", err)
	}
	// The recorded price is the offered form, not the caller's spelling.
	if accept.Amount != "150.00" {
		t.Errorf("accept amount = %s, want 150.00", accept.Amount)
	}
}

func TestThread_ClosedRejectsEverything(t *testing.T) {
	th := newThread()
	_, _ = th.Offer(RoleSeller, "150", t0)
	_, _ = th.Reject(RoleAdmin, t0.Add(time.Minute))

	if _, err := th.Post(RoleSeller, "hello?", t0.Add(2*time.Minute)); err != ErrThreadClosed {
		t.Errorf("Post after reject = %v, want ErrThreadClosed", err)
	}
	if _, err := th.Offer(RoleSeller, "140", t0.Add(2*time.Minute)); err != ErrThreadClosed {
		t.Errorf("Offer after reject = %v, want ErrThreadClosed", err)
	}
	if _, err := th.Accept(RoleSeller, "150", t0.Add(2*time.Minute)); err != ErrThreadClosed {
		t.Errorf("Accept after reject = %v, want ErrThreadClosed", err)
	}
	if _, err := th.Reject(RoleSeller, t0.Add(2*time.Minute)); err != ErrThreadClosed {
		t.Errorf("Reject after reject = %v, want ErrThreadClosed", err)
	}

	// Exactly one terminal message, and it is the last one.
	terminals := 0
	for _, msg := range th.Messages {
		if msg.Kind.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("expected exactly 1 terminal message, got %d", terminals)
	}
}

func TestOffer_InvalidAmounts(t *testing.T) {
	th := newThread()
	for _, amount := range []string{"", "0", "-10", "abc", "1e-no"} {
		if _, err := th.Offer(RoleSeller, amount, t0); err != ErrInvalidAmount {
			t.Errorf("Offer(%q) = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if len(th.Messages) != 0 {
		t.Error("rejected offers must not be appended")
	}
}

func TestThread_BuyerMayNotNegotiate(t *testing.T) {
	th := newThread()
	if _, err := th.Offer(RoleBuyer, "100", t0); err != ErrInvalidRole {
		t.Errorf("buyer Offer = %v, want ErrInvalidRole", err)
	}
	if _, err := th.Post(Role("moderator"), "hi", t0); err != ErrInvalidRole {
		t.Errorf("unknown role Post = %v, want ErrInvalidRole", err)
	}
}

func TestLatestOffer(t *testing.T) {
	th := newThread()
	if th.LatestOffer() != nil {
		t.Error("empty thread has no latest offer")
	}
	_, _ = th.Offer(RoleSeller, "150", t0)
	_, _ = th.Post(RoleAdmin, "checking the account", t0.Add(time.Minute))
	_, _ = th.Offer(RoleAdmin, "120", t0.Add(2*time.Minute))

	latest := th.LatestOffer()
	if latest == nil || latest.Amount != "120" || latest.Sender != RoleAdmin {
		t.Errorf("unexpected latest offer: %+v", latest)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	th := newThread()
	msg, _ := th.Offer(RoleSeller, "150", t0)
	if err := store.Append(ctx, msg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	loaded, err := LoadThread(ctx, store, "txn_1")
	if err != nil {
		t.Fatalf("LoadThread failed: %v", err)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Amount != "150" {
		t.Fatalf("unexpected thread: %+v", loaded.Messages)
	}

	// Mutating the loaded copy must not touch the stored log.
	loaded.Messages[0].Amount = "tampered"
	again, _ := LoadThread(ctx, store, "txn_1")
	if again.Messages[0].Amount != "150" {
		t.Error("store returned a shared pointer")
	}

	empty, err := LoadThread(ctx, store, "txn_other")
	if err != nil || len(empty.Messages) != 0 {
		t.Errorf("expected empty thread for unknown transaction, got %v, %v", empty.Messages, err)
	}
}
