// Package notify dispatches lifecycle notifications to workflow participants.
//
// Delivery is fire-and-forget: failures are logged and counted, never
// returned to the caller, so a failed notification can never reverse a
// committed state transition.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Event is the notification payload for one lifecycle transition.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	TransactionID string         `json:"transactionId"`
	ListingID     string         `json:"listingId,omitempty"`
	State         string         `json:"state,omitempty"`
	Amount        string         `json:"amount,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	At            time.Time      `json:"at"`
	Data          map[string]any `json:"data,omitempty"`
}

// Notifier delivers an event to one user, best-effort.
type Notifier interface {
	Notify(ctx context.Context, userID string, event Event)
}

// LogNotifier writes notifications to the structured log. Used in development
// mode when no webhook receiver is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID string, event Event) {
	n.logger.Info("notification",
		"user", userID,
		"event", event.Type,
		"transactionId", event.TransactionID,
		"state", event.State,
	)
}
