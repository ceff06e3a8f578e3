// Package protection implements the optional post-release protection plan.
//
// A plan is a paid add-on purchasable once funds have been released. It keeps
// the platform liable for a fixed window (default 10 days): redemption inside
// the window triggers the external dispute/refund path. Expiry is lazy: the
// status flips to expired the next time any mutating operation observes the
// deadline has passed; no background sweep is required for correctness.
package protection

import (
	"errors"
	"time"
)

var (
	ErrPlanNotActive   = errors.New("protection plan is not active")
	ErrPlanExpired     = errors.New("protection plan has expired")
	ErrInvalidDuration = errors.New("plan duration must be a positive number of days")
)

// DefaultDurationDays is the default protection window length.
const DefaultDurationDays = 10

// Status represents the state of a protection plan.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusRedeemed Status = "redeemed"
)

// Record tracks one transaction's protection plan.
type Record struct {
	StartDate    time.Time  `json:"startDate"`
	DurationDays int        `json:"durationDays"`
	Price        string     `json:"price"`
	PurchasedBy  string     `json:"purchasedBy"`
	Status       Status     `json:"status"`
	RedeemedAt   *time.Time `json:"redeemedAt,omitempty"`
	ExpiredAt    *time.Time `json:"expiredAt,omitempty"`
}

// Purchase creates an active plan starting now. This is the only way a plan
// comes into existence; StartDate is set exactly once here.
func Purchase(purchasedBy, price string, durationDays int, now time.Time) (*Record, error) {
	if durationDays < 0 {
		return nil, ErrInvalidDuration
	}
	if durationDays == 0 {
		durationDays = DefaultDurationDays
	}
	return &Record{
		StartDate:    now,
		DurationDays: durationDays,
		Price:        price,
		PurchasedBy:  purchasedBy,
		Status:       StatusActive,
	}, nil
}

// Expiry returns the instant the plan lapses: startDate + durationDays.
// The expiry instant itself is outside the covered window.
func (r *Record) Expiry() time.Time {
	return r.StartDate.Add(time.Duration(r.DurationDays) * 24 * time.Hour)
}

// Lapsed is the pure expiry check: an active plan whose window has passed.
// It does not mutate status; callers apply MarkExpired on their next write.
func (r *Record) Lapsed(now time.Time) bool {
	return r.Status == StatusActive && !now.Before(r.Expiry())
}

// Redeem marks the plan redeemed. Redemption requires an active plan and
// now strictly before expiry; at or past the boundary the plan is spent.
func (r *Record) Redeem(now time.Time) error {
	switch r.Status {
	case StatusActive:
		if !now.Before(r.Expiry()) {
			return ErrPlanExpired
		}
	case StatusExpired:
		return ErrPlanExpired
	default:
		return ErrPlanNotActive
	}
	r.Status = StatusRedeemed
	r.RedeemedAt = &now
	return nil
}

// MarkExpired applies the lazy active→expired transition. It fails with
// ErrPlanNotActive when there is nothing to expire.
func (r *Record) MarkExpired(now time.Time) error {
	if !r.Lapsed(now) {
		return ErrPlanNotActive
	}
	r.Status = StatusExpired
	r.ExpiredAt = &now
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.RedeemedAt != nil {
		t := *r.RedeemedAt
		cp.RedeemedAt = &t
	}
	if r.ExpiredAt != nil {
		t := *r.ExpiredAt
		cp.ExpiredAt = &t
	}
	return &cp
}
