package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/metrics"
	"github.com/ariefcatur/go-rental-bookings/internal/products"
	"github.com/ariefcatur/go-rental-bookings/internal/profiles"
	"github.com/ariefcatur/go-rental-bookings/internal/settlement"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	NotePaidCancelled = "Paid booking cancelled - refund required via smart contract"
	NoteExpired       = "Payment not received before deadline"

	DefaultLimit = 50
	MaxLimit     = 100

	cancelNotice = 24 * time.Hour
)

// Store is the persistence the lifecycle needs. *Repo implements it.
type Store interface {
	Get(ctx context.Context, id string) (*Booking, error)
	CreateIfAvailable(ctx context.Context, b *Booking) (*Booking, error)
	ConfirmPayment(ctx context.Context, id, renterID, signature string, at time.Time) (*Booking, error)
	Complete(ctx context.Context, id, renterID, signature string, at time.Time) (*Booking, error)
	Cancel(ctx context.Context, u CancelUpdate) (*Booking, error)
	ExpirePending(ctx context.Context, cutoff, at time.Time, note string) ([]Booking, error)
	List(ctx context.Context, f ListFilter) ([]Booking, int, error)
	// SignatureUsed reports whether any booking already recorded signature.
	SignatureUsed(ctx context.Context, signature string) (bool, error)
	AppendEvent(ctx context.Context, e EventRecord) error
	ListEvents(ctx context.Context, bookingID string) ([]EventRecord, error)
}

type ProductReader interface {
	Get(ctx context.Context, id int64) (*products.Product, error)
}

type ProfileReader interface {
	Get(ctx context.Context, id string) (*profiles.Profile, error)
}

type SignatureVerifier interface {
	Verify(ctx context.Context, signature string, exp settlement.Expectation) error
}

// Publisher is satisfied by the async kafka producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Cache holds recently read bookings. Get returns nil, nil on a miss. Add stores b only
// when nothing is cached for it.
type Cache interface {
	Get(ctx context.Context, id string) (*Booking, error)
	Set(ctx context.Context, b *Booking) error
	Add(ctx context.Context, b *Booking) error
	Invalidate(ctx context.Context, id string) error
}

// Service applies the booking lifecycle. Producer and Cache are optional.
type Service struct {
	Store    Store
	Products ProductReader
	Profiles ProfileReader
	Bridge   *settlement.Bridge
	Verifier SignatureVerifier
	Producer Publisher
	Cache    Cache
	Log      logrus.FieldLogger

	PaymentWindow time.Duration
	ServiceName   string
	Now           func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create reserves a product for the caller and returns the payload that funds the escrow.
func (s *Service) Create(ctx context.Context, renterID string, in CreateInput) (*Booking, *settlement.Payload, error) {
	if in.ProductID <= 0 || in.StartDate.IsZero() || in.EndDate.IsZero() {
		return nil, nil, ErrMissingFields
	}
	if !in.StartDate.Before(in.EndDate) {
		return nil, nil, ErrInvalidDates
	}
	if in.TotalPrice <= 0 {
		return nil, nil, ErrInvalidPrice
	}

	p, err := s.Products.Get(ctx, in.ProductID)
	if errors.Is(err, products.ErrNotFound) {
		return nil, nil, ErrProductNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if p.Status != products.StatusListed {
		return nil, nil, ErrProductUnlisted
	}
	if p.OwnerID == renterID {
		return nil, nil, ErrOwnBooking
	}

	renter, err := s.wallet(ctx, renterID, ErrRenterWallet)
	if err != nil {
		return nil, nil, err
	}
	owner, err := s.wallet(ctx, p.OwnerID, ErrOwnerWallet)
	if err != nil {
		return nil, nil, err
	}

	b, err := s.Store.CreateIfAvailable(ctx, &Booking{
		ProductID:  in.ProductID,
		RenterID:   renterID,
		OwnerID:    p.OwnerID,
		StartDate:  in.StartDate.UTC(),
		EndDate:    in.EndDate.UTC(),
		TotalPrice: in.TotalPrice,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return nil, nil, err
	}

	payload, err := s.Bridge.PaymentInstructions(rentalOf(b, renter, owner))
	if err != nil {
		return nil, nil, err
	}
	s.transitioned(ctx, b, EventBookingCreated, renterID, "", false)
	return b, payload, nil
}

// ConfirmPayment records the escrow funding transaction of a pending booking.
func (s *Service) ConfirmPayment(ctx context.Context, callerID, id, signature string) (*Booking, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, ErrNoSignature
	}
	b, err := s.renterBooking(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusPending {
		return nil, ErrNotPending
	}
	if err := s.verify(ctx, b, signature, b.RenterID, settlement.IxPayRental); err != nil {
		return nil, err
	}

	out, err := s.Store.ConfirmPayment(ctx, id, callerID, signature, s.now())
	if errors.Is(err, errNotApplied) {
		return nil, s.diagnose(ctx, callerID, id, signature, StatusPending, ErrNotPending)
	}
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, out, EventPaymentConfirmed, callerID, signature, false)
	return out, nil
}

// CompletionInstructions builds the escrow release payload. It does not change state.
func (s *Service) CompletionInstructions(ctx context.Context, callerID, id string) (*Booking, *settlement.Payload, error) {
	b, err := s.renterBooking(ctx, callerID, id)
	if err != nil {
		return nil, nil, err
	}
	if b.Status != StatusConfirmed {
		return nil, nil, ErrNotConfirmed
	}
	r, err := s.rental(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.Bridge.CompletionInstructions(r)
	if err != nil {
		return nil, nil, err
	}
	return b, p, nil
}

// FinalizeCompletion records the escrow release transaction of a confirmed booking.
func (s *Service) FinalizeCompletion(ctx context.Context, callerID, id, signature string) (*Booking, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, ErrNoCompletion
	}
	b, err := s.renterBooking(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusConfirmed {
		return nil, ErrNotConfirmed
	}
	if err := s.verify(ctx, b, signature, b.RenterID, settlement.IxCompleteRental); err != nil {
		return nil, err
	}

	out, err := s.Store.Complete(ctx, id, callerID, signature, s.now())
	if errors.Is(err, errNotApplied) {
		return nil, s.diagnose(ctx, callerID, id, signature, StatusConfirmed, ErrNotConfirmed)
	}
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, out, EventBookingCompleted, callerID, signature, false)
	return out, nil
}

// Cancel is the renter's cancellation. A paid booking is still cancelled, with a note
// and the payload the renter signs to reclaim the escrow.
func (s *Service) Cancel(ctx context.Context, callerID, id string) (*Booking, *settlement.Payload, error) {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if b.RenterID != callerID {
		return nil, nil, ErrRenterOnly
	}
	now := s.now()
	if err := cancellable(b, now); err != nil {
		return nil, nil, err
	}

	u := CancelUpdate{ID: id, From: b.Status, At: now}
	paid := b.Status == StatusConfirmed
	if paid {
		note := NotePaidCancelled
		u.Notes = &note
	}
	out, err := s.Store.Cancel(ctx, u)
	if errors.Is(err, errNotApplied) {
		return nil, nil, s.cancelConflict(ctx, id, "")
	}
	if err != nil {
		return nil, nil, err
	}
	s.transitioned(ctx, out, EventBookingCancelled, callerID, "", paid)

	if !paid {
		return out, nil, nil
	}
	r, err := s.rental(ctx, out)
	if err == nil {
		var p *settlement.Payload
		if p, err = s.Bridge.CancelInstructions(r, settlement.IxCancelAsRenterPaid); err == nil {
			return out, p, nil
		}
	}
	s.logger().WithError(err).WithField("booking_id", id).Warn("refund payload unavailable")
	return out, nil, nil
}

// CancellationInstructions builds the escrow cancellation the caller signs before
// CancelWithSignature: the renter's for a pending or paid booking, the owner's for a
// paid one. It does not change state.
func (s *Service) CancellationInstructions(ctx context.Context, callerID, id string) (*Booking, *settlement.Payload, error) {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !b.Party(callerID) {
		return nil, nil, ErrForbidden
	}
	if err := cancellable(b, s.now()); err != nil {
		return nil, nil, err
	}
	method, err := cancelMethod(b, callerID)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.rental(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.Bridge.CancelInstructions(r, method)
	if err != nil {
		return nil, nil, err
	}
	return b, p, nil
}

// CancelWithSignature is the cancellation either party may make after signing the
// on-chain cancellation themselves.
func (s *Service) CancelWithSignature(ctx context.Context, callerID, id, signature string) (*Booking, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, ErrNoSignature
	}
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Party(callerID) {
		return nil, ErrForbidden
	}
	now := s.now()
	if err := cancellable(b, now); err != nil {
		return nil, err
	}
	method, err := cancelMethod(b, callerID)
	if err != nil {
		return nil, err
	}
	if err := s.verify(ctx, b, signature, callerID, method); err != nil {
		return nil, err
	}

	u := CancelUpdate{ID: id, From: b.Status, At: now, Signature: &signature}
	paid := b.Status == StatusConfirmed
	if paid {
		note := NotePaidCancelled
		u.Notes = &note
	}
	out, err := s.Store.Cancel(ctx, u)
	if errors.Is(err, errNotApplied) {
		return nil, s.cancelConflict(ctx, id, signature)
	}
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, out, EventBookingCancelled, callerID, signature, paid)
	return out, nil
}

// Get returns a booking to its renter or owner.
func (s *Service) Get(ctx context.Context, callerID, id string) (*Booking, error) {
	b := s.cached(ctx, id)
	if b == nil {
		var err error
		if b, err = s.Store.Get(ctx, id); err != nil {
			return nil, err
		}
		s.populate(ctx, b)
	}
	if !b.Party(callerID) {
		return nil, ErrForbidden
	}
	return b, nil
}

// List pages through the caller's bookings, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	switch f.Role {
	case RoleAny, RoleRenter, RoleOwner:
	default:
		return nil, ErrInvalidRole
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	list, total, err := s.Store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	res := &ListResult{
		Bookings:       list,
		RenterBookings: []Booking{},
		OwnerBookings:  []Booking{},
		TotalCount:     total,
		Pagination: Pagination{
			Limit:   f.Limit,
			Offset:  f.Offset,
			HasMore: total > f.Offset+f.Limit,
		},
	}
	for _, b := range list {
		if b.RenterID == f.UserID {
			res.RenterBookings = append(res.RenterBookings, b)
		}
		if b.OwnerID == f.UserID {
			res.OwnerBookings = append(res.OwnerBookings, b)
		}
	}
	return res, nil
}

// Events returns the recorded history of a booking to its renter or owner.
func (s *Service) Events(ctx context.Context, callerID, id string) ([]EventRecord, error) {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Party(callerID) {
		return nil, ErrForbidden
	}
	return s.Store.ListEvents(ctx, id)
}

// ExpireUnpaid cancels pending bookings whose payment window has passed.
func (s *Service) ExpireUnpaid(ctx context.Context) (int, error) {
	if s.PaymentWindow <= 0 {
		return 0, nil
	}
	now := s.now()
	expired, err := s.Store.ExpirePending(ctx, now.Add(-s.PaymentWindow), now, NoteExpired)
	if err != nil {
		return 0, err
	}
	for i := range expired {
		s.transitioned(ctx, &expired[i], EventBookingExpired, "", "", false)
	}
	return len(expired), nil
}

// RecordEvent stores a consumed event in the booking's history and drops the cached copy.
func (s *Service) RecordEvent(ctx context.Context, env Envelope) error {
	var p TransitionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return err
	}
	if p.BookingID == "" {
		p.BookingID = env.CorrelationID
	}
	err := s.Store.AppendEvent(ctx, EventRecord{
		EventID:    env.EventID,
		BookingID:  p.BookingID,
		EventType:  env.EventType,
		Status:     p.Status,
		ActorID:    p.ActorID,
		OccurredAt: env.OccurredAt,
	})
	if err != nil {
		return err
	}
	if s.Cache != nil {
		if err := s.Cache.Invalidate(ctx, p.BookingID); err != nil {
			s.logger().WithError(err).WithField("booking_id", p.BookingID).Warn("cache invalidate failed")
		}
	}
	metrics.RecordEvent(env.EventType)
	return nil
}

func (s *Service) renterBooking(ctx context.Context, callerID, id string) (*Booking, error) {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.RenterID != callerID {
		return nil, ErrForbidden
	}
	return b, nil
}

// diagnose explains why a conditional transition out of want matched no row.
func (s *Service) diagnose(ctx context.Context, callerID, id, signature string, want Status, stateErr error) error {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.RenterID != callerID {
		return ErrForbidden
	}
	if b.Status != want {
		return stateErr
	}
	return s.raced(ctx, signature)
}

func (s *Service) cancelConflict(ctx context.Context, id, signature string) error {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := cancellable(b, time.Time{}); err != nil {
		return err
	}
	return s.raced(ctx, signature)
}

// raced names the loser of a concurrent write: another booking took signature, or the
// row moved on.
func (s *Service) raced(ctx context.Context, signature string) error {
	if signature != "" {
		if used, err := s.Store.SignatureUsed(ctx, signature); err == nil && used {
			return ErrSignatureUsed
		}
	}
	return ErrStateChanged
}

// cancelMethod picks the escrow instruction callerID signs to cancel b. Only the
// renter can cancel before payment; the escrow has no owner path out of that state.
func cancelMethod(b *Booking, callerID string) (string, error) {
	switch {
	case callerID == b.RenterID && b.Status == StatusPending:
		return settlement.IxCancelAsRenterCreated, nil
	case callerID == b.RenterID:
		return settlement.IxCancelAsRenterPaid, nil
	case b.Status == StatusConfirmed:
		return settlement.IxCancelAsOwner, nil
	}
	return "", ErrOwnerUnpaid
}

// cancellable applies the cancellation rules in order: terminal states first, then the
// notice period before start_date. A zero now skips the notice check.
func cancellable(b *Booking, now time.Time) error {
	switch b.Status {
	case StatusCompleted:
		return ErrCompleted
	case StatusCancelled:
		return ErrCancelled
	}
	if !now.IsZero() && !now.Before(b.StartDate.Add(-cancelNotice)) {
		return ErrTooLate
	}
	return nil
}

// verify checks signature on chain: signed by signerID's wallet, calling method on the
// program and touching the rental's account. A signature recorded by any booking, in
// any role, is refused before the RPC call.
func (s *Service) verify(ctx context.Context, b *Booking, signature, signerID, method string) error {
	used, err := s.Store.SignatureUsed(ctx, signature)
	if err != nil {
		return err
	}
	if used {
		return ErrSignatureUsed
	}
	renter, err := s.wallet(ctx, b.RenterID, ErrRenterWallet)
	if err != nil {
		return err
	}
	signer := renter
	if signerID != b.RenterID {
		if signer, err = s.wallet(ctx, signerID, ErrOwnerWallet); err != nil {
			return err
		}
	}
	acc, err := s.Bridge.Derive(settlement.Rental{ProductID: b.ProductID, Renter: renter})
	if err != nil {
		return err
	}
	return s.Verifier.Verify(ctx, signature, settlement.Expectation{
		Method:   method,
		Signer:   signer,
		Accounts: []settlement.PublicKey{acc.RentalTransaction},
	})
}

func (s *Service) wallet(ctx context.Context, userID string, missing error) (settlement.PublicKey, error) {
	p, err := s.Profiles.Get(ctx, userID)
	if errors.Is(err, profiles.ErrNotFound) {
		return settlement.PublicKey{}, missing
	}
	if err != nil {
		return settlement.PublicKey{}, err
	}
	k, err := settlement.ParsePublicKey(strings.TrimSpace(p.WalletAddress))
	if err != nil {
		return settlement.PublicKey{}, missing
	}
	return k, nil
}

func (s *Service) rental(ctx context.Context, b *Booking) (settlement.Rental, error) {
	renter, err := s.wallet(ctx, b.RenterID, ErrRenterWallet)
	if err != nil {
		return settlement.Rental{}, err
	}
	owner, err := s.wallet(ctx, b.OwnerID, ErrOwnerWallet)
	if err != nil {
		return settlement.Rental{}, err
	}
	return rentalOf(b, renter, owner), nil
}

func rentalOf(b *Booking, renter, owner settlement.PublicKey) settlement.Rental {
	return settlement.Rental{
		BookingID:  b.ID,
		ProductID:  b.ProductID,
		Renter:     renter,
		Owner:      owner,
		TotalPrice: b.TotalPrice,
		Start:      b.StartDate,
		End:        b.EndDate,
	}
}

// transitioned runs the side effects of a committed state change. None of them can fail
// the request.
func (s *Service) transitioned(ctx context.Context, b *Booking, eventType, actorID, signature string, refund bool) {
	metrics.RecordTransition(string(b.Status))
	s.remember(ctx, b)
	s.logger().WithFields(logrus.Fields{
		"booking_id": b.ID,
		"status":     b.Status,
		"actor_id":   actorID,
		"event_type": eventType,
	}).Info("booking transition")

	if s.Producer == nil {
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    b.UpdatedAt,
		Producer:      s.ServiceName,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: b.ID,
	}
	payload, err := json.Marshal(TransitionPayload{
		BookingID:      b.ID,
		ProductID:      b.ProductID,
		RenterID:       b.RenterID,
		OwnerID:        b.OwnerID,
		ActorID:        actorID,
		Status:         b.Status,
		Signature:      signature,
		RefundRequired: refund,
		At:             b.UpdatedAt,
	})
	if err != nil {
		s.logger().WithError(err).Error("encode event payload")
		return
	}
	env.Payload = payload
	value, err := json.Marshal(env)
	if err != nil {
		s.logger().WithError(err).Error("encode event")
		return
	}
	s.Producer.Publish(topicFor(b.Status), PartitionKey(b.ID), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) cached(ctx context.Context, id string) *Booking {
	if s.Cache == nil {
		return nil
	}
	b, err := s.Cache.Get(ctx, id)
	if err != nil {
		s.logger().WithError(err).WithField("booking_id", id).Warn("cache read failed")
		return nil
	}
	return b
}

func (s *Service) remember(ctx context.Context, b *Booking) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Set(ctx, b); err != nil {
		s.logger().WithError(err).WithField("booking_id", b.ID).Warn("cache write failed")
	}
}

// populate caches a row read from the store without replacing a copy a transition
// stored in the meantime.
func (s *Service) populate(ctx context.Context, b *Booking) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Add(ctx, b); err != nil {
		s.logger().WithError(err).WithField("booking_id", b.ID).Warn("cache write failed")
	}
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}
