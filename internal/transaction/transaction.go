// Package transaction orchestrates the escrow workflow for one listing sale.
//
// Flow:
//  1. Seller submits a listing → transaction created in negotiating
//  2. Seller and admin exchange offers → accept fixes the price
//  3. Payment captured → safe period starts (admin verifies account access)
//  4. Admin resolves → funds released or disputed
//  5. After release the buyer or seller may buy a protection plan,
//     redeemable for a refund until it lapses
//
// The transaction is the unit of serialization: every mutating operation on
// one transaction id runs under the same per-id mutex, and each operation is
// all-or-nothing against the persisted snapshot.
package transaction

import (
	"context"
	"errors"
	"time"

	"github.com/gametrust/gametrust/internal/protection"
	"github.com/gametrust/gametrust/internal/safeperiod"
)

var (
	ErrNotFound          = errors.New("transaction not found")
	ErrConflict          = errors.New("transaction was modified concurrently")
	ErrInvalidState      = errors.New("operation not legal in current state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnauthorized      = errors.New("not authorized for this transaction operation")
	ErrAlreadyPurchased  = errors.New("protection plan already purchased")
)

// State represents the lifecycle state of a transaction.
type State string

const (
	StateNegotiating      State = "negotiating"       // Offers being exchanged
	StateAwaitingPayment  State = "awaiting_payment"  // Price agreed, payment pending
	StateSafePeriod       State = "safe_period"       // Verification window running
	StateReleased         State = "released"          // Funds released to seller
	StateProtectionActive State = "protection_active" // Paid protection window running
	StateDisputed         State = "disputed"          // Under dispute, refund path
	StateRejected         State = "rejected"          // Negotiation rejected
	StateExpired          State = "expired"           // Protection plan lapsed
)

// transitions is the complete table of legal state changes. Anything not
// listed here fails with ErrInvalidTransition and leaves state unchanged.
var transitions = map[State][]State{
	StateNegotiating:      {StateAwaitingPayment, StateRejected},
	StateAwaitingPayment:  {StateSafePeriod},
	StateSafePeriod:       {StateReleased, StateDisputed},
	StateReleased:         {StateProtectionActive},
	StateProtectionActive: {StateDisputed, StateExpired},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction is one listing sale attempt.
type Transaction struct {
	ID          string             `json:"id"`
	ListingID   string             `json:"listingId"`
	SellerID    string             `json:"sellerId"`
	AdminID     string             `json:"adminId,omitempty"` // assigned on first admin action
	BuyerID     string             `json:"buyerId,omitempty"` // assigned at safe-period start
	State       State              `json:"state"`
	AgreedPrice string             `json:"agreedPrice,omitempty"` // set exactly once, on acceptance
	SafePeriod  *safeperiod.Record `json:"safePeriod,omitempty"`
	Protection  *protection.Record `json:"protectionPlan,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// IsTerminal returns true if the transaction is in a final state.
// Released is not terminal: a protection plan may still be purchased.
func (t *Transaction) IsTerminal() bool {
	switch t.State {
	case StateRejected, StateDisputed, StateExpired:
		return true
	}
	return false
}

// Participants returns the known user ids attached to the transaction.
func (t *Transaction) Participants() []string {
	ids := make([]string, 0, 3)
	for _, id := range []string{t.SellerID, t.BuyerID, t.AdminID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Clone returns a deep copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	cp := *t
	cp.SafePeriod = t.SafePeriod.Clone()
	cp.Protection = t.Protection.Clone()
	return &cp
}

// Store persists transaction snapshots.
//
// Update takes the UpdatedAt value the caller read the snapshot with; stores
// must reject the write with ErrConflict when the persisted row has moved on.
type Store interface {
	Create(ctx context.Context, txn *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, txn *Transaction, expectedUpdatedAt time.Time) error
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Transaction, error)
	ListExpiredSafePeriods(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
	ListExpiredProtection(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
}
