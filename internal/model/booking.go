package model

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the lifecycle state of a booking.  All transitions
// out of INITIATED are terminal; re-delivery of the same payment
// outcome must be a no-op.
type BookingStatus string

const (
	BookingInitiated BookingStatus = "INITIATED"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
)

// PaymentStatus mirrors the payment processor's view of a booking.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Booking is the durable record of a booking's lifecycle.  Bookings
// are created once per idempotency key, mutated only by saga
// transitions and never deleted; terminal states are retained for
// audit.  SeatsConfirmed and SeatsUnlocked guard against duplicate
// calls into the reservation engine on retried payment updates.
//
// Fields:
//  ID               – primary key (UUID).
//  UserID           – user who initiated the booking.
//  ShowID           – show the seats belong to.
//  SeatSessionID    – correlator of the seat locks taken for this booking.
//  TotalAmountCents – sum of the per-seat price snapshots.
//  Status           – lifecycle state.
//  PaymentStatus    – payment processor outcome.
//  IdempotencyKey   – client-supplied token, unique across bookings.
//  SeatsConfirmed   – true once confirmSeats has been called.
//  SeatsUnlocked    – true once unlockSeats has been called.
//  CreatedAt        – creation timestamp.
type Booking struct {
	ID               uuid.UUID     // bookings.id
	UserID           uint64        // bookings.user_id
	ShowID           uint64        // bookings.show_id
	SeatSessionID    string        // bookings.seat_session_id
	TotalAmountCents uint32        // bookings.total_amount_cents
	Status           BookingStatus // bookings.status
	PaymentStatus    PaymentStatus // bookings.payment_status
	IdempotencyKey   string        // bookings.idempotency_key
	SeatsConfirmed   bool          // bookings.seats_confirmed
	SeatsUnlocked    bool          // bookings.seats_unlocked
	CreatedAt        time.Time     // bookings.created_at
}

// BookingSeat is one line item of a booking: a seat label and the
// price snapshot taken at lock time.  Rows are created alongside the
// booking and are immutable thereafter.
type BookingSeat struct {
	BookingID  uuid.UUID // booking_seats.booking_id
	SeatLabel  string    // booking_seats.seat_label
	PriceCents uint32    // booking_seats.price_cents
}
