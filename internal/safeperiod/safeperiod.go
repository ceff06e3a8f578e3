// Package safeperiod implements the post-acceptance verification window.
//
// After a price is agreed and payment is captured, the administrator has a
// fixed window (default 48h) to verify account access before funds are
// released. Admins may extend the window, even past its nominal deadline, so
// an expired-but-unresolved period can be resurrected. Expiry never resolves
// the period on its own: funds move only on an explicit resolve call.
package safeperiod

import (
	"errors"
	"time"
)

var (
	ErrAlreadyResolved  = errors.New("safe period already resolved")
	ErrInvalidExtension = errors.New("extension must add a positive number of hours")
	ErrInvalidOutcome   = errors.New("outcome must be released or disputed")
)

// DefaultDurationHours is the default verification window length.
const DefaultDurationHours = 48

// Outcome represents the resolution state of a safe period.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeReleased Outcome = "released"
	OutcomeDisputed Outcome = "disputed"
)

// Extension is one admin-granted prolongation of the window.
type Extension struct {
	AddedHours int       `json:"addedHours"`
	GrantedBy  string    `json:"grantedBy"`
	GrantedAt  time.Time `json:"grantedAt"`
}

// Record tracks one transaction's safe period.
type Record struct {
	StartTime     time.Time   `json:"startTime"`
	DurationHours int         `json:"durationHours"`
	Extensions    []Extension `json:"extensions,omitempty"`
	Outcome       Outcome     `json:"outcome"`
	ResolvedBy    string      `json:"resolvedBy,omitempty"`
	ResolvedAt    *time.Time  `json:"resolvedAt,omitempty"`
}

// New creates a pending safe period starting at start.
// A non-positive durationHours falls back to the default.
func New(start time.Time, durationHours int) *Record {
	if durationHours <= 0 {
		durationHours = DefaultDurationHours
	}
	return &Record{
		StartTime:     start,
		DurationHours: durationHours,
		Outcome:       OutcomePending,
	}
}

// Deadline returns the effective deadline: start + duration + granted extensions.
func (r *Record) Deadline() time.Time {
	hours := r.DurationHours
	for _, ext := range r.Extensions {
		hours += ext.AddedHours
	}
	return r.StartTime.Add(time.Duration(hours) * time.Hour)
}

// Expired reports whether now is at or past the effective deadline.
// Expiry is a derived, transient condition: the record stays pending until
// an explicit Resolve.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.Deadline())
}

// Resolved reports whether the record reached a terminal outcome.
func (r *Record) Resolved() bool {
	return r.Outcome != OutcomePending
}

// Extend appends an admin-granted extension. Allowed while the outcome is
// pending, regardless of whether the nominal deadline has already lapsed.
func (r *Record) Extend(adminID string, addedHours int, now time.Time) error {
	if r.Resolved() {
		return ErrAlreadyResolved
	}
	if addedHours <= 0 {
		return ErrInvalidExtension
	}
	r.Extensions = append(r.Extensions, Extension{
		AddedHours: addedHours,
		GrantedBy:  adminID,
		GrantedAt:  now,
	})
	return nil
}

// Resolve sets the terminal outcome exactly once.
func (r *Record) Resolve(adminID string, outcome Outcome, now time.Time) error {
	if r.Resolved() {
		return ErrAlreadyResolved
	}
	if outcome != OutcomeReleased && outcome != OutcomeDisputed {
		return ErrInvalidOutcome
	}
	r.Outcome = outcome
	r.ResolvedBy = adminID
	r.ResolvedAt = &now
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Extensions != nil {
		cp.Extensions = make([]Extension, len(r.Extensions))
		copy(cp.Extensions, r.Extensions)
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
