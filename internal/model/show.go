package model

import "time"

// Pricing holds the per-tier seat prices of a show in cents.  Shows
// carry all four tiers; a zero value for a tier means "not configured"
// and callers should fall back to the configured default price.
//
// Fields:
//  StandardCents – price of STANDARD seats.
//  PremiumCents  – price of PREMIUM seats.
//  VIPCents      – price of VIP seats.
//  ReclinerCents – price of RECLINER seats.
type Pricing struct {
	StandardCents uint32 // shows.price_standard_cents
	PremiumCents  uint32 // shows.price_premium_cents
	VIPCents      uint32 // shows.price_vip_cents
	ReclinerCents uint32 // shows.price_recliner_cents
}

// PriceFor returns the configured price for the given seat tier.  The
// second return value reports whether the tier carries a non-zero
// configuration; when false, callers must apply their default price.
func (p Pricing) PriceFor(t SeatType) (uint32, bool) {
	var cents uint32
	switch t {
	case SeatTypeStandard:
		cents = p.StandardCents
	case SeatTypePremium:
		cents = p.PremiumCents
	case SeatTypeVIP:
		cents = p.VIPCents
	case SeatTypeRecliner:
		cents = p.ReclinerCents
	}
	return cents, cents > 0
}

// Show identifies a bookable event.  A show references an immutable
// seat layout, carries per-tier pricing, and keeps denormalized seat
// counters that are updated on the confirm path.  The counters are a
// derived cache; the booked bitmap in Redis is the source of truth
// for per-seat state.
//
// Fields:
//  ID                – primary key identifier.
//  LayoutID          – seat layout defining the universe of seat labels.
//  Title             – human-readable name of the event.
//  Pricing           – per-tier seat prices.
//  TotalSeats        – number of seats in the layout (denormalized).
//  AvailableSeats    – seats not yet booked (denormalized counter).
//  BookedSeats       – seats permanently booked (denormalized counter).
//  BookingCutoffTime – bookings are rejected at or after this instant.
//  BookingEnabled    – master switch for accepting bookings.
//  CreatedAt         – creation timestamp.
type Show struct {
	ID                uint64    // shows.id
	LayoutID          uint64    // shows.layout_id
	Title             string    // shows.title
	Pricing           Pricing   // shows.price_*_cents
	TotalSeats        uint32    // shows.total_seats
	AvailableSeats    uint32    // shows.available_seats
	BookedSeats       uint32    // shows.booked_seats
	BookingCutoffTime time.Time // shows.booking_cutoff_time
	BookingEnabled    bool      // shows.booking_enabled
	CreatedAt         time.Time // shows.created_at
}

// AcceptsBookings reports whether a booking may be created for the
// show at the given instant.  Both the enabled flag and the cutoff
// time must allow it.
func (s *Show) AcceptsBookings(now time.Time) bool {
	return s.BookingEnabled && now.Before(s.BookingCutoffTime)
}
