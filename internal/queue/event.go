// Package queue defines message payloads exchanged over the message
// broker and the background consumer that records them.
package queue

// BookingConfirmedQueue is the durable queue carrying confirmation
// events.
const BookingConfirmedQueue = "booking.confirmed"

// BookingConfirmedEvent is published when a booking is confirmed
// after successful payment.  It contains enough information for
// downstream consumers to log, notify or feed analytics without
// querying the primary database.
type BookingConfirmedEvent struct {
	BookingID        string   `json:"booking_id"`
	UserID           uint64   `json:"user_id"`
	ShowID           uint64   `json:"show_id"`
	Seats            []string `json:"seats"`
	TotalAmountCents uint32   `json:"total_amount_cents"`
	ConfirmedAt      string   `json:"confirmed_at"`
}
