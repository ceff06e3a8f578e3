package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gametrust/gametrust/internal/clock"
	"github.com/gametrust/gametrust/internal/idgen"
	"github.com/gametrust/gametrust/internal/metrics"
	"github.com/gametrust/gametrust/internal/negotiation"
	"github.com/gametrust/gametrust/internal/payment"
	"github.com/gametrust/gametrust/internal/protection"
	"github.com/gametrust/gametrust/internal/safeperiod"
)

// CreateRequest contains the parameters for opening a transaction.
type CreateRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	SellerID  string `json:"sellerId" binding:"required"`
}

// Service implements the transaction lifecycle.
//
// Payment capture runs before the per-transaction lock is taken and refunds
// run after it is released, so the lock is never held across a network call.
type Service struct {
	store           Store
	messages        negotiation.Store
	payments        payment.Provider
	events          EventSink
	clk             clock.Clock
	logger          *slog.Logger
	safePeriodHours int
	protectionDays  int
	protectionPrice string
	locks           sync.Map // per-transaction ID locks
}

// NewService creates a new transaction service.
func NewService(store Store, messages negotiation.Store, clk clock.Clock) *Service {
	return &Service{
		store:           store,
		messages:        messages,
		clk:             clk,
		logger:          slog.Default(),
		safePeriodHours: safeperiod.DefaultDurationHours,
		protectionDays:  protection.DefaultDurationDays,
	}
}

// WithPayments adds a payment provider for capture and refund.
func (s *Service) WithPayments(p payment.Provider) *Service {
	s.payments = p
	return s
}

// WithEvents adds a sink for committed lifecycle events.
func (s *Service) WithEvents(sink EventSink) *Service {
	s.events = sink
	return s
}

// WithLogger replaces the default logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// WithSafePeriodHours overrides the default verification window length.
func (s *Service) WithSafePeriodHours(hours int) *Service {
	if hours > 0 {
		s.safePeriodHours = hours
	}
	return s
}

// WithProtectionPlan configures the protection plan add-on.
func (s *Service) WithProtectionPlan(days int, price string) *Service {
	if days > 0 {
		s.protectionDays = days
	}
	s.protectionPrice = price
	return s
}

// lock returns the mutex for the given transaction ID.
// This serializes all mutating operations on one transaction.
func (s *Service) lock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create opens a transaction for a submitted listing.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	now := s.clk.Now()
	txn := &Transaction{
		ID:        idgen.WithPrefix("txn_"),
		ListingID: req.ListingID,
		SellerID:  req.SellerID,
		State:     StateNegotiating,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	metrics.TransitionsTotal.WithLabelValues(string(StateNegotiating)).Inc()
	s.emit(ctx, txn, EventCreated, "", req.SellerID, nil)
	return txn, nil
}

// Get returns a transaction by ID.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// ListBySeller returns a seller's transactions, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}

// Thread returns the negotiation message log for a transaction.
func (s *Service) Thread(ctx context.Context, id string) (*negotiation.Thread, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return negotiation.LoadThread(ctx, s.messages, id)
}

// PostMessage appends a plain chat message to the negotiation thread.
func (s *Service) PostMessage(ctx context.Context, id string, role negotiation.Role, actorID, text string) (*negotiation.Message, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, thread, err := s.loadNegotiating(ctx, id)
	if err != nil {
		return nil, err
	}

	msg, err := thread.Post(role, text, s.clk.Now())
	if err != nil {
		return nil, err
	}
	if err := s.claimAdmin(ctx, txn, role, actorID); err != nil {
		return nil, err
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	metrics.NegotiationMessagesTotal.WithLabelValues(string(msg.Kind)).Inc()
	s.emit(ctx, txn, EventMessagePosted, "", actorID, nil)
	return msg, nil
}

// MakeOffer appends an offer (seller) or counter-offer (admin).
func (s *Service) MakeOffer(ctx context.Context, id string, role negotiation.Role, actorID, amount string) (*negotiation.Message, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, thread, err := s.loadNegotiating(ctx, id)
	if err != nil {
		return nil, err
	}

	msg, err := thread.Offer(role, amount, s.clk.Now())
	if err != nil {
		return nil, err
	}
	if err := s.claimAdmin(ctx, txn, role, actorID); err != nil {
		return nil, err
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append offer: %w", err)
	}

	metrics.NegotiationMessagesTotal.WithLabelValues(string(msg.Kind)).Inc()
	s.emit(ctx, txn, EventOfferMade, msg.Amount, actorID, nil)
	return msg, nil
}

// Accept accepts the counterpart's latest offer, fixes the agreed price and
// moves the transaction to awaiting_payment. Only one of accept/reject can
// succeed per thread; a later caller observes the closed thread.
func (s *Service) Accept(ctx context.Context, id string, role negotiation.Role, actorID, amount string) (*Transaction, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, thread, err := s.loadNegotiating(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	msg, err := thread.Accept(role, amount, now)
	if err != nil {
		return nil, err
	}

	if role == negotiation.RoleAdmin && txn.AdminID == "" {
		txn.AdminID = actorID
	}
	txn.AgreedPrice = msg.Amount
	if err := s.commitTransition(ctx, txn, StateAwaitingPayment); err != nil {
		return nil, err
	}
	s.appendTerminal(ctx, txn, msg)

	s.emit(ctx, txn, EventAccepted, txn.AgreedPrice, actorID, nil)
	return txn, nil
}

// Reject closes the negotiation and moves the transaction to rejected.
func (s *Service) Reject(ctx context.Context, id string, role negotiation.Role, actorID string) (*Transaction, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, thread, err := s.loadNegotiating(ctx, id)
	if err != nil {
		return nil, err
	}

	msg, err := thread.Reject(role, s.clk.Now())
	if err != nil {
		return nil, err
	}

	if role == negotiation.RoleAdmin && txn.AdminID == "" {
		txn.AdminID = actorID
	}
	if err := s.commitTransition(ctx, txn, StateRejected); err != nil {
		return nil, err
	}
	s.appendTerminal(ctx, txn, msg)

	s.emit(ctx, txn, EventRejected, "", actorID, nil)
	return txn, nil
}

// StartSafePeriod captures the agreed price from the buyer and starts the
// verification window. Capture happens before the transaction lock is taken;
// if the transition then fails the capture is refunded best-effort.
func (s *Service) StartSafePeriod(ctx context.Context, id, buyerID string) (*Transaction, error) {
	peek, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if peek.State != StateAwaitingPayment {
		return nil, ErrInvalidState
	}

	if s.payments != nil {
		if err := s.payments.Capture(ctx, peek.ID, peek.AgreedPrice); err != nil {
			return nil, fmt.Errorf("payment capture failed: %w", err)
		}
	}

	txn, err := s.startSafePeriodLocked(ctx, id, buyerID)
	if err != nil {
		s.refund(ctx, peek.ID, peek.AgreedPrice)
		return nil, err
	}

	s.emit(ctx, txn, EventSafePeriodStarted, txn.AgreedPrice, buyerID, map[string]any{
		"deadline": txn.SafePeriod.Deadline(),
	})
	return txn, nil
}

func (s *Service) startSafePeriodLocked(ctx context.Context, id, buyerID string) (*Transaction, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.State != StateAwaitingPayment {
		return nil, ErrInvalidState
	}

	txn.BuyerID = buyerID
	txn.SafePeriod = safeperiod.New(s.clk.Now(), s.safePeriodHours)
	if err := s.commitTransition(ctx, txn, StateSafePeriod); err != nil {
		return nil, err
	}
	return txn, nil
}

// ExtendSafePeriod appends an admin-granted extension to the verification
// window. Allowed while the outcome is pending, even past the deadline.
func (s *Service) ExtendSafePeriod(ctx context.Context, id, adminID string, addedHours int) (*Transaction, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.State != StateSafePeriod {
		if txn.SafePeriod != nil && txn.SafePeriod.Resolved() {
			return nil, safeperiod.ErrAlreadyResolved
		}
		return nil, ErrInvalidState
	}

	if err := txn.SafePeriod.Extend(adminID, addedHours, s.clk.Now()); err != nil {
		return nil, err
	}
	if txn.AdminID == "" {
		txn.AdminID = adminID
	}
	if err := s.save(ctx, txn); err != nil {
		return nil, err
	}

	metrics.SafePeriodExtensionsTotal.Inc()
	s.emit(ctx, txn, EventSafePeriodExtended, "", adminID, map[string]any{
		"addedHours": addedHours,
		"deadline":   txn.SafePeriod.Deadline(),
	})
	return txn, nil
}

// ResolveSafePeriod sets the safe-period outcome exactly once and moves the
// transaction to released or disputed. A disputed outcome refunds the buyer
// after the state change is committed.
func (s *Service) ResolveSafePeriod(ctx context.Context, id, adminID string, outcome safeperiod.Outcome) (*Transaction, error) {
	txn, err := s.resolveSafePeriodLocked(ctx, id, adminID, outcome)
	if err != nil {
		return nil, err
	}

	metrics.SafePeriodResolutionsTotal.WithLabelValues(string(outcome)).Inc()
	if txn.State == StateDisputed {
		s.refund(ctx, txn.ID, txn.AgreedPrice)
		s.emit(ctx, txn, EventDisputed, txn.AgreedPrice, adminID, nil)
	} else {
		s.emit(ctx, txn, EventReleased, txn.AgreedPrice, adminID, nil)
	}
	return txn, nil
}

func (s *Service) resolveSafePeriodLocked(ctx context.Context, id, adminID string, outcome safeperiod.Outcome) (*Transaction, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.State != StateSafePeriod {
		if txn.SafePeriod != nil && txn.SafePeriod.Resolved() {
			return nil, safeperiod.ErrAlreadyResolved
		}
		return nil, ErrInvalidState
	}

	if err := txn.SafePeriod.Resolve(adminID, outcome, s.clk.Now()); err != nil {
		return nil, err
	}
	target := StateReleased
	if outcome == safeperiod.OutcomeDisputed {
		target = StateDisputed
	}
	if txn.AdminID == "" {
		txn.AdminID = adminID
	}
	if err := s.commitTransition(ctx, txn, target); err != nil {
		return nil, err
	}
	return txn, nil
}

// PurchaseProtection captures the plan price and activates the protection
// window. Only the seller or buyer of a released transaction may purchase,
// and only once.
func (s *Service) PurchaseProtection(ctx context.Context, id, actorID string) (*Transaction, error) {
	peek, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if peek.Protection != nil {
		return nil, ErrAlreadyPurchased
	}
	if peek.State != StateReleased {
		return nil, ErrInvalidState
	}
	if actorID != peek.SellerID && actorID != peek.BuyerID {
		return nil, ErrUnauthorized
	}

	if s.payments != nil {
		if err := s.payments.Capture(ctx, protectionReference(peek.ID), s.protectionPrice); err != nil {
			return nil, fmt.Errorf("plan payment capture failed: %w", err)
		}
	}

	txn, err := s.purchaseProtectionLocked(ctx, id, actorID)
	if err != nil {
		s.refund(ctx, protectionReference(peek.ID), s.protectionPrice)
		return nil, err
	}

	metrics.ProtectionPlansTotal.WithLabelValues(string(protection.StatusActive)).Inc()
	s.emit(ctx, txn, EventPlanPurchased, txn.Protection.Price, actorID, map[string]any{
		"expiry": txn.Protection.Expiry(),
	})
	return txn, nil
}

func (s *Service) purchaseProtectionLocked(ctx context.Context, id, actorID string) (*Transaction, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Protection != nil {
		return nil, ErrAlreadyPurchased
	}
	if txn.State != StateReleased {
		return nil, ErrInvalidState
	}
	if actorID != txn.SellerID && actorID != txn.BuyerID {
		return nil, ErrUnauthorized
	}

	plan, err := protection.Purchase(actorID, s.protectionPrice, s.protectionDays, s.clk.Now())
	if err != nil {
		return nil, err
	}
	txn.Protection = plan
	if err := s.commitTransition(ctx, txn, StateProtectionActive); err != nil {
		return nil, err
	}
	return txn, nil
}

// RedeemProtection redeems an active plan, moving the transaction to
// disputed and refunding the agreed price. Redemption at or past the plan
// expiry fails; a lapsed plan is marked expired on the spot.
func (s *Service) RedeemProtection(ctx context.Context, id, actorID string) (*Transaction, error) {
	txn, lapsed, err := s.redeemProtectionLocked(ctx, id, actorID)
	if lapsed {
		// The redeem attempt surfaced a lapsed plan; the expiry transition
		// was committed instead of the redemption.
		metrics.ProtectionPlansTotal.WithLabelValues(string(protection.StatusExpired)).Inc()
		s.emit(ctx, txn, EventPlanExpired, "", "", nil)
		return nil, protection.ErrPlanExpired
	}
	if err != nil {
		return nil, err
	}

	metrics.ProtectionPlansTotal.WithLabelValues(string(protection.StatusRedeemed)).Inc()
	s.refund(ctx, txn.ID, txn.AgreedPrice)
	s.emit(ctx, txn, EventPlanRedeemed, txn.AgreedPrice, actorID, nil)
	return txn, nil
}

func (s *Service) redeemProtectionLocked(ctx context.Context, id, actorID string) (txn *Transaction, lapsed bool, err error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if txn.State != StateProtectionActive || txn.Protection == nil {
		return nil, false, ErrInvalidState
	}
	if actorID != txn.SellerID && actorID != txn.BuyerID {
		return nil, false, ErrUnauthorized
	}

	now := s.clk.Now()
	if txn.Protection.Lapsed(now) {
		if err := s.expireLocked(ctx, txn, now); err != nil {
			return nil, false, err
		}
		return txn, true, nil
	}

	if err := txn.Protection.Redeem(now); err != nil {
		return nil, false, err
	}
	if err := s.commitTransition(ctx, txn, StateDisputed); err != nil {
		return nil, false, err
	}
	return txn, false, nil
}

// ExpireProtection applies the lazy active→expired transition. Called by the
// background sweeper; correctness does not depend on it, since any mutating
// operation applies the same transition on observation.
func (s *Service) ExpireProtection(ctx context.Context, id string) (*Transaction, error) {
	txn, err := s.expireProtectionLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.ProtectionPlansTotal.WithLabelValues(string(protection.StatusExpired)).Inc()
	s.emit(ctx, txn, EventPlanExpired, "", "", nil)
	return txn, nil
}

func (s *Service) expireProtectionLocked(ctx context.Context, id string) (*Transaction, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.State != StateProtectionActive || txn.Protection == nil {
		return nil, ErrInvalidState
	}
	now := s.clk.Now()
	if !txn.Protection.Lapsed(now) {
		return nil, protection.ErrPlanNotActive
	}
	if err := s.expireLocked(ctx, txn, now); err != nil {
		return nil, err
	}
	return txn, nil
}

// expireLocked commits the lazy expiry transition. Caller holds the lock and
// has verified the plan lapsed.
func (s *Service) expireLocked(ctx context.Context, txn *Transaction, now time.Time) error {
	if err := txn.Protection.MarkExpired(now); err != nil {
		return err
	}
	return s.commitTransition(ctx, txn, StateExpired)
}

// loadNegotiating fetches the transaction and its thread for a negotiation
// operation. Caller must hold the transaction lock.
func (s *Service) loadNegotiating(ctx context.Context, id string) (*Transaction, *negotiation.Thread, error) {
	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if txn.State != StateNegotiating {
		if txn.State == StateRejected || txn.AgreedPrice != "" {
			return nil, nil, negotiation.ErrThreadClosed
		}
		return nil, nil, ErrInvalidState
	}
	thread, err := negotiation.LoadThread(ctx, s.messages, id)
	if err != nil {
		return nil, nil, err
	}
	return txn, thread, nil
}

// claimAdmin assigns the transaction to the first admin that acts on it and
// persists the assignment.
func (s *Service) claimAdmin(ctx context.Context, txn *Transaction, role negotiation.Role, actorID string) error {
	if role != negotiation.RoleAdmin || txn.AdminID != "" {
		return nil
	}
	txn.AdminID = actorID
	return s.save(ctx, txn)
}

// commitTransition applies a table-checked state change and persists the
// snapshot. On failure the in-memory transaction must be discarded by the
// caller; the store remains the source of truth.
func (s *Service) commitTransition(ctx context.Context, txn *Transaction, to State) error {
	if !CanTransition(txn.State, to) {
		return ErrInvalidTransition
	}
	txn.State = to
	if err := s.save(ctx, txn); err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(string(to)).Inc()
	return nil
}

// save persists the snapshot with an optimistic-concurrency check on the
// UpdatedAt the snapshot was read with.
func (s *Service) save(ctx context.Context, txn *Transaction) error {
	expected := txn.UpdatedAt
	txn.UpdatedAt = s.clk.Now()
	if err := s.store.Update(ctx, txn, expected); err != nil {
		txn.UpdatedAt = expected
		return err
	}
	return nil
}

// appendTerminal records the accept/reject message after the transaction
// snapshot has been committed. The snapshot is the source of truth; the
// append is retried once and escalated on double failure.
func (s *Service) appendTerminal(ctx context.Context, txn *Transaction, msg *negotiation.Message) {
	if err := s.messages.Append(ctx, msg); err != nil {
		if retryErr := s.messages.Append(ctx, msg); retryErr != nil {
			// CRITICAL: the transaction committed its terminal state but the
			// closing message is missing from the thread log.
			s.logger.Error("CRITICAL: terminal negotiation message lost",
				"transactionId", txn.ID, "kind", msg.Kind, "error", retryErr)
			return
		}
	}
	metrics.NegotiationMessagesTotal.WithLabelValues(string(msg.Kind)).Inc()
}

// refund is the best-effort compensation path. Failures are logged for
// manual resolution; they never reverse a committed transition.
func (s *Service) refund(ctx context.Context, reference, amount string) {
	if s.payments == nil || amount == "" {
		return
	}
	if err := s.payments.Refund(ctx, reference, amount); err != nil {
		s.logger.Error("CRITICAL: refund failed, requires manual resolution",
			"reference", reference, "amount", amount, "error", err)
	}
}

// emit publishes a committed lifecycle event to the configured sink.
func (s *Service) emit(ctx context.Context, txn *Transaction, typ EventType, amount, actor string, data map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, Event{
		ID:            idgen.WithPrefix("evt_"),
		Type:          typ,
		TransactionID: txn.ID,
		ListingID:     txn.ListingID,
		State:         txn.State,
		Amount:        amount,
		Actor:         actor,
		Recipients:    txn.Participants(),
		At:            s.clk.Now(),
		Data:          data,
	})
}

func protectionReference(txnID string) string {
	return txnID + "/protection"
}
