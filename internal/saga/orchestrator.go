// Package saga drives the booking workflow: reserve seats, price
// them, persist the booking, hand off to the payment processor, and
// reconcile the payment outcome exactly once.  There is no global
// transaction across these steps; correctness comes from idempotent
// steps and compensating cleanup, with the reservation engine's TTL
// expiry as the safety net.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nvaziri/seatbook/internal/model"
	"github.com/nvaziri/seatbook/internal/payment"
	"github.com/nvaziri/seatbook/internal/queue"
	"github.com/nvaziri/seatbook/internal/repository"
	"github.com/nvaziri/seatbook/internal/reservation"
)

// ErrMissingIdempotencyKey is returned when a create request carries
// no idempotency key; the key is the sole duplicate-submission
// defense and therefore mandatory.
var ErrMissingIdempotencyKey = errors.New("missing idempotency key")

// ErrBookingClosed is returned when the show is not accepting
// bookings (disabled or past its cutoff time).
var ErrBookingClosed = errors.New("booking closed for show")

// ErrPaymentInitiation wraps a failure to start the payment after the
// booking was persisted.  The booking stays INITIATED with its seats
// locked; the reaper cleans it up if the caller never retries.
var ErrPaymentInitiation = errors.New("payment initiation failed")

// SeatEngine is the slice of the reservation engine the saga needs.
type SeatEngine interface {
	LockSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID string, ttl time.Duration) (*reservation.LockResult, error)
	UnlockSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID string) (int, error)
	ConfirmSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID, bookingID string) (int, error)
}

// SeatPricer resolves per-seat prices, degrading to a base price
// rather than failing.
type SeatPricer interface {
	SeatPrices(ctx context.Context, showID uint64, labels []string) (map[string]uint32, error)
	BasePrice() uint32
}

// BookingStore is the durable booking record store.
type BookingStore interface {
	CreateWithSeats(ctx context.Context, b *model.Booking, seats []model.BookingSeat) error
	ByID(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	ByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error)
	Seats(ctx context.Context, id uuid.UUID) ([]model.BookingSeat, error)
	UpdateOutcome(ctx context.Context, b *model.Booking) error
	StaleInitiated(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error)
}

// ShowStore provides show lookup and the confirm-path counter update.
type ShowStore interface {
	ShowByID(ctx context.Context, showID uint64) (*model.Show, error)
	ApplyConfirmedSeats(ctx context.Context, showID uint64, n int) error
}

// PaymentInitiator starts payment collection with the external
// processor.
type PaymentInitiator interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Handle, error)
}

// EventPublisher emits booking lifecycle events.  Publishing is
// best-effort and never blocks a saga transition.
type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
}

// Config carries the orchestrator's tunables.
type Config struct {
	// LockTTL is the seat lock lifetime requested at booking
	// creation.  Payment round-trips regularly exceed it; the
	// engine's relaxed confirm policy covers that case.
	LockTTL time.Duration
}

// CreateBookingRequest is the input of the create-booking saga.
type CreateBookingRequest struct {
	IdempotencyKey string
	UserID         uint64
	ShowID         uint64
	SeatLabels     []string
}

// BookingResult is the caller-visible state of a booking.
type BookingResult struct {
	BookingID        uuid.UUID           `json:"booking_id"`
	Status           model.BookingStatus `json:"status"`
	PaymentStatus    model.PaymentStatus `json:"payment_status"`
	TotalAmountCents uint32              `json:"total_amount_cents"`
}

// BookingDetail is a BookingResult plus the per-seat price snapshot.
type BookingDetail struct {
	BookingResult
	ShowID uint64              `json:"show_id"`
	Seats  []model.BookingSeat `json:"seats"`
}

// Orchestrator owns every booking mutation.  Bookings are created on
// the first request per idempotency key and mutated only by the
// payment-outcome and reaper transitions.
type Orchestrator struct {
	bookings BookingStore
	shows    ShowStore
	engine   SeatEngine
	pricer   SeatPricer
	payments PaymentInitiator
	events   EventPublisher
	cfg      Config
	log      *logrus.Logger
	now      func() time.Time
}

// NewOrchestrator wires the saga's collaborators together.
func NewOrchestrator(bookings BookingStore, shows ShowStore, engine SeatEngine, pricer SeatPricer, payments PaymentInitiator, events EventPublisher, cfg Config, log *logrus.Logger) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Orchestrator{
		bookings: bookings,
		shows:    shows,
		engine:   engine,
		pricer:   pricer,
		payments: payments,
		events:   events,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// CreateBooking runs the forward saga: idempotency short-circuit,
// all-or-nothing seat lock, pricing, durable persist, payment
// initiation.  A payment initiation failure is surfaced to the
// caller together with the created booking; the booking is not
// rolled back and its seats stay locked so an immediate retry with
// the same idempotency key does not re-lock.
func (o *Orchestrator) CreateBooking(ctx context.Context, req CreateBookingRequest) (*BookingResult, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}

	// Step 1: the idempotency short-circuit must precede any side
	// effect.  A duplicate submission gets the current state
	// verbatim, whatever seats it names this time.
	if existing, err := o.bookings.ByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return resultOf(existing), nil
	} else if !errors.Is(err, repository.ErrBookingNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	show, err := o.shows.ShowByID(ctx, req.ShowID)
	if err != nil {
		return nil, err
	}
	if !show.AcceptsBookings(o.now().UTC()) {
		return nil, ErrBookingClosed
	}

	// Step 2: lock failures propagate unmodified; retrying the same
	// seats does not help, the caller must pick different ones.
	sessionID := uuid.NewString()
	if _, err := o.engine.LockSeats(ctx, req.ShowID, req.SeatLabels, req.UserID, sessionID, o.cfg.LockTTL); err != nil {
		return nil, err
	}

	// Step 3: price the seats.  Pricing problems degrade to the base
	// price; they never block booking creation.
	prices, err := o.pricer.SeatPrices(ctx, req.ShowID, req.SeatLabels)
	if err != nil {
		o.log.WithError(err).WithField("show_id", req.ShowID).Warn("pricing lookup failed, using base price")
		prices = nil
	}
	var total uint32
	seats := make([]model.BookingSeat, 0, len(req.SeatLabels))
	bookingID := uuid.New()
	for _, label := range req.SeatLabels {
		price, ok := prices[label]
		if !ok {
			price = o.pricer.BasePrice()
		}
		total += price
		seats = append(seats, model.BookingSeat{BookingID: bookingID, SeatLabel: label, PriceCents: price})
	}

	// Step 4: persist booking and line items in one transaction.
	booking := &model.Booking{
		ID:               bookingID,
		UserID:           req.UserID,
		ShowID:           req.ShowID,
		SeatSessionID:    sessionID,
		TotalAmountCents: total,
		Status:           model.BookingInitiated,
		PaymentStatus:    model.PaymentPending,
		IdempotencyKey:   req.IdempotencyKey,
		CreatedAt:        o.now().UTC(),
	}
	if err := o.bookings.CreateWithSeats(ctx, booking, seats); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			// lost a race with a concurrent duplicate; drop our locks
			// and return the winner's state
			o.releaseQuietly(ctx, req.ShowID, req.SeatLabels, req.UserID, sessionID)
			winner, lookupErr := o.bookings.ByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("idempotency re-read: %w", lookupErr)
			}
			return resultOf(winner), nil
		}
		// seats stay locked; TTL expiry cleans them up
		return nil, fmt.Errorf("persist booking: %w", err)
	}

	// Step 5: request payment initiation.  On failure the booking
	// remains INITIATED for the reaper and the failure is surfaced.
	if _, err := o.payments.Initiate(ctx, payment.InitiateRequest{
		BookingID:      booking.ID,
		UserID:         booking.UserID,
		AmountCents:    booking.TotalAmountCents,
		IdempotencyKey: booking.IdempotencyKey,
	}); err != nil {
		o.log.WithError(err).WithField("booking_id", booking.ID).Error("payment initiation failed, booking left INITIATED")
		return resultOf(booking), fmt.Errorf("%w: %v", ErrPaymentInitiation, err)
	}

	return resultOf(booking), nil
}

// HandlePaymentUpdate reconciles an asynchronous payment outcome.
// Delivery is at-least-once: an update matching the stored payment
// status is a no-op, and the seatsConfirmed/seatsUnlocked flags keep
// the engine calls single-shot even though the engine itself is also
// idempotent.
func (o *Orchestrator) HandlePaymentUpdate(ctx context.Context, bookingID uuid.UUID, status model.PaymentStatus, reason string) error {
	b, err := o.bookings.ByID(ctx, bookingID)
	if err != nil {
		return err
	}

	// an update matching the stored payment status carries no new
	// information; in particular a PENDING notification against a
	// PENDING booking must not be mistaken for a failure
	if b.PaymentStatus == status {
		return nil
	}
	if status == model.PaymentPending {
		// payment still in flight, nothing to reconcile yet
		return nil
	}

	// beyond PENDING, anything that is not an explicit success counts
	// as a failure
	outcome := model.PaymentFailed
	if status == model.PaymentSuccess {
		outcome = model.PaymentSuccess
	}

	if b.PaymentStatus == outcome {
		return nil
	}
	if b.Status != model.BookingInitiated {
		// conflicting re-delivery against a terminal booking; keep
		// the terminal state
		o.log.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"status":     b.Status,
			"incoming":   outcome,
		}).Warn("ignoring payment update for finalized booking")
		return nil
	}

	seatRows, err := o.bookings.Seats(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("load booking seats: %w", err)
	}
	labels := make([]string, 0, len(seatRows))
	for _, s := range seatRows {
		labels = append(labels, s.SeatLabel)
	}

	if outcome == model.PaymentSuccess {
		return o.confirm(ctx, b, labels)
	}
	return o.release(ctx, b, labels, reason)
}

// confirm finalizes a paid booking: seats become booked bits, the
// show counters advance, the booking turns CONFIRMED and the
// confirmation event goes out.
func (o *Orchestrator) confirm(ctx context.Context, b *model.Booking, labels []string) error {
	if !b.SeatsConfirmed {
		n, err := o.engine.ConfirmSeats(ctx, b.ShowID, labels, b.UserID, b.SeatSessionID, b.ID.String())
		if err != nil {
			return fmt.Errorf("confirm seats: %w", err)
		}
		b.SeatsConfirmed = true
		if n > 0 {
			if err := o.shows.ApplyConfirmedSeats(ctx, b.ShowID, n); err != nil {
				// counters are a derived cache, the bitmap already
				// carries the truth
				o.log.WithError(err).WithField("show_id", b.ShowID).Warn("counter update failed")
			}
		}
	}

	b.PaymentStatus = model.PaymentSuccess
	b.Status = model.BookingConfirmed
	if err := o.bookings.UpdateOutcome(ctx, b); err != nil {
		return fmt.Errorf("persist confirmed booking: %w", err)
	}

	if o.events != nil {
		ev := queue.BookingConfirmedEvent{
			BookingID:        b.ID.String(),
			UserID:           b.UserID,
			ShowID:           b.ShowID,
			Seats:            labels,
			TotalAmountCents: b.TotalAmountCents,
			ConfirmedAt:      o.now().UTC().Format(time.RFC3339),
		}
		if err := o.events.PublishBookingConfirmed(ctx, ev); err != nil {
			o.log.WithError(err).WithField("booking_id", b.ID).Warn("publish booking.confirmed failed")
		}
	}
	return nil
}

// release cancels a booking after a payment failure.  The unlock is
// best-effort: the locks self-expire regardless, so an unlock failure
// is logged, not retried, and never fails the transition.
func (o *Orchestrator) release(ctx context.Context, b *model.Booking, labels []string, reason string) error {
	if !b.SeatsUnlocked {
		if _, err := o.engine.UnlockSeats(ctx, b.ShowID, labels, b.UserID, b.SeatSessionID); err != nil && !errors.Is(err, reservation.ErrSeatNotLocked) {
			o.log.WithError(err).WithField("booking_id", b.ID).Warn("best-effort unlock failed")
		}
		b.SeatsUnlocked = true
	}

	b.PaymentStatus = model.PaymentFailed
	b.Status = model.BookingCancelled
	if err := o.bookings.UpdateOutcome(ctx, b); err != nil {
		return fmt.Errorf("persist cancelled booking: %w", err)
	}
	o.log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"reason":     reason,
	}).Info("booking cancelled after payment failure")
	return nil
}

// BookingByID returns a booking with its seat line items.
func (o *Orchestrator) BookingByID(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	b, err := o.bookings.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	seats, err := o.bookings.Seats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BookingDetail{BookingResult: *resultOf(b), ShowID: b.ShowID, Seats: seats}, nil
}

// releaseQuietly drops our freshly taken locks after losing an
// idempotency race.  Best-effort only.
func (o *Orchestrator) releaseQuietly(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID string) {
	if _, err := o.engine.UnlockSeats(ctx, showID, labels, userID, sessionID); err != nil && !errors.Is(err, reservation.ErrSeatNotLocked) {
		o.log.WithError(err).Warn("unlock after idempotency race failed")
	}
}

func resultOf(b *model.Booking) *BookingResult {
	return &BookingResult{
		BookingID:        b.ID,
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		TotalAmountCents: b.TotalAmountCents,
	}
}
