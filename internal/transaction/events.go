package transaction

import (
	"context"
	"time"
)

// EventType classifies a lifecycle event.
type EventType string

const (
	EventCreated            EventType = "transaction.created"
	EventMessagePosted      EventType = "negotiation.message"
	EventOfferMade          EventType = "negotiation.offer"
	EventAccepted           EventType = "negotiation.accepted"
	EventRejected           EventType = "negotiation.rejected"
	EventSafePeriodStarted  EventType = "safe_period.started"
	EventSafePeriodExtended EventType = "safe_period.extended"
	EventSafePeriodExpiring EventType = "safe_period.expiring"
	EventReleased           EventType = "safe_period.released"
	EventDisputed           EventType = "safe_period.disputed"
	EventPlanPurchased      EventType = "protection.purchased"
	EventPlanRedeemed       EventType = "protection.redeemed"
	EventPlanExpired        EventType = "protection.expired"
)

// Event describes one committed lifecycle change. Events are emitted only
// after the snapshot has been persisted, so consumers never observe a state
// the store does not hold.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	TransactionID string         `json:"transactionId"`
	ListingID     string         `json:"listingId,omitempty"`
	State         State          `json:"state,omitempty"`
	Amount        string         `json:"amount,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	Recipients    []string       `json:"-"` // delivery targets, not part of the payload
	At            time.Time      `json:"at"`
	Data          map[string]any `json:"data,omitempty"`
}

// EventSink receives committed lifecycle events. Implementations must be
// fast and non-blocking; delivery failures must never reverse a transition.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}
