// Package negotiation implements the price negotiation between a seller and
// an administrator over a submitted listing.
//
// The thread is an append-only message log. Sellers make offers, admins make
// counter-offers, and either side may accept the counterpart's most recent
// offer or reject outright. The thread ends with exactly one accept or reject
// message; nothing may be appended after that.
package negotiation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gametrust/gametrust/internal/idgen"
)

var (
	ErrThreadClosed   = errors.New("negotiation thread is closed")
	ErrInvalidAmount  = errors.New("offer amount must be a positive number")
	ErrAmountMismatch = errors.New("amount does not match the counterpart's pending offer")
	ErrInvalidRole    = errors.New("role may not participate in negotiation")
)

// Role identifies a workflow participant.
type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
	RoleAdmin  Role = "admin"
)

// ParseRole maps a wire string onto a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleSeller, RoleBuyer, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Kind classifies a negotiation message.
type Kind string

const (
	KindMessage      Kind = "message"
	KindOffer        Kind = "offer"
	KindCounterOffer Kind = "counter_offer"
	KindAccept       Kind = "accept"
	KindReject       Kind = "reject"
)

// Terminal reports whether a message of this kind closes the thread.
func (k Kind) Terminal() bool {
	return k == KindAccept || k == KindReject
}

// Message is one entry in a negotiation thread. Messages are never mutated
// or deleted once appended.
type Message struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	Sender        Role      `json:"senderRole"`
	Kind          Kind      `json:"kind"`
	Amount        string    `json:"amount,omitempty"` // present iff kind is offer/counter_offer, or the accepted price
	Text          string    `json:"text,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Thread is the ordered message log for one transaction.
type Thread struct {
	TransactionID string     `json:"transactionId"`
	Messages      []*Message `json:"messages"`
}

// Terminal returns the closing accept/reject message, or nil while open.
func (t *Thread) Terminal() *Message {
	if n := len(t.Messages); n > 0 && t.Messages[n-1].Kind.Terminal() {
		return t.Messages[n-1]
	}
	return nil
}

// Closed reports whether the thread has a terminal message.
func (t *Thread) Closed() bool {
	return t.Terminal() != nil
}

// LatestOffer returns the most recent offer or counter-offer, or nil.
func (t *Thread) LatestOffer() *Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if k := t.Messages[i].Kind; k == KindOffer || k == KindCounterOffer {
			return t.Messages[i]
		}
	}
	return nil
}

// Post appends a plain chat message.
func (t *Thread) Post(sender Role, text string, now time.Time) (*Message, error) {
	if err := t.checkOpen(sender); err != nil {
		return nil, err
	}
	return t.append(sender, KindMessage, "", strings.TrimSpace(text), now), nil
}

// Offer appends an offer (seller) or counter-offer (admin).
func (t *Thread) Offer(sender Role, amount string, now time.Time) (*Message, error) {
	if err := t.checkOpen(sender); err != nil {
		return nil, err
	}
	if _, ok := parseAmount(amount); !ok {
		return nil, ErrInvalidAmount
	}
	kind := KindOffer
	if sender == RoleAdmin {
		kind = KindCounterOffer
	}
	return t.append(sender, kind, amount, "", now), nil
}

// Accept appends the terminal accept message. The amount must equal the
// counterpart's most recent offer; accepting a stale or own number fails.
func (t *Thread) Accept(sender Role, amount string, now time.Time) (*Message, error) {
	if err := t.checkOpen(sender); err != nil {
		return nil, err
	}
	want, ok := parseAmount(amount)
	if !ok {
		return nil, ErrInvalidAmount
	}
	latest := t.LatestOffer()
	if latest == nil || latest.Sender == sender {
		return nil, ErrAmountMismatch
	}
	if have, ok := parseAmount(latest.Amount); !ok || have != want {
		return nil, ErrAmountMismatch
	}
	return t.append(sender, KindAccept, latest.Amount, "", now), nil
}

// Reject appends the terminal reject message.
func (t *Thread) Reject(sender Role, now time.Time) (*Message, error) {
	if err := t.checkOpen(sender); err != nil {
		return nil, err
	}
	return t.append(sender, KindReject, "", "", now), nil
}

func (t *Thread) checkOpen(sender Role) error {
	if sender != RoleSeller && sender != RoleAdmin {
		return ErrInvalidRole
	}
	if t.Closed() {
		return ErrThreadClosed
	}
	return nil
}

func (t *Thread) append(sender Role, kind Kind, amount, text string, now time.Time) *Message {
	msg := &Message{
		ID:            idgen.WithPrefix("msg_"),
		TransactionID: t.TransactionID,
		Sender:        sender,
		Kind:          kind,
		Amount:        amount,
		Text:          text,
		CreatedAt:     now,
	}
	t.Messages = append(t.Messages, msg)
	return msg
}

// Store persists negotiation messages.
type Store interface {
	Append(ctx context.Context, msg *Message) error
	ListByTransaction(ctx context.Context, transactionID string) ([]*Message, error)
}

// LoadThread reads a transaction's thread from the store.
func LoadThread(ctx context.Context, store Store, transactionID string) (*Thread, error) {
	msgs, err := store.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return &Thread{TransactionID: transactionID, Messages: msgs}, nil
}

func parseAmount(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}
