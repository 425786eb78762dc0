// Package reservation implements the per-show seat reservation
// engine: a dense label-to-index map derived from the seat layout, a
// booked bitmap, and a TTL-bound lock table, all backed by Redis.
// The multi-seat lock, owner-checked unlock and relaxed confirm each
// run as a single server-side Lua script so that concurrent callers
// can never observe a partial reservation.
package reservation

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine.  Handlers translate these
// into structured HTTP responses: validation failures map to 400,
// conflicts to 409.
var (
	// ErrInvalidSeat is returned when a seat label does not exist in
	// the show's layout.
	ErrInvalidSeat = errors.New("invalid seat label")

	// ErrDuplicateSeat is returned when the same label appears more
	// than once in a single request.
	ErrDuplicateSeat = errors.New("duplicate seat label")

	// ErrTooManySeats is returned when a request exceeds the
	// configured per-request seat limit.
	ErrTooManySeats = errors.New("too many seats requested")

	// ErrSeatAlreadyBooked is returned when a requested seat has a
	// set availability bit, i.e. it was permanently sold.
	ErrSeatAlreadyBooked = errors.New("seat already booked")

	// ErrSeatAlreadyLocked is returned when a requested seat is
	// transiently locked by another session.
	ErrSeatAlreadyLocked = errors.New("seat already locked")

	// ErrSeatNotLocked is returned by unlock when no seat in the
	// request was actually held by the caller; the locks likely
	// expired or never existed.
	ErrSeatNotLocked = errors.New("no seats locked by caller")
)

// SeatError wraps a sentinel error with the offending seat label so
// that callers can report which seat caused a conflict.  errors.Is
// against the wrapped sentinel continues to work.
type SeatError struct {
	Label string
	Err   error
}

func (e *SeatError) Error() string {
	return fmt.Sprintf("seat %s: %v", e.Label, e.Err)
}

func (e *SeatError) Unwrap() error { return e.Err }

// seatErr builds a SeatError for the given label.
func seatErr(label string, err error) error {
	return &SeatError{Label: label, Err: err}
}

// OffendingSeat extracts the seat label from an engine error, if the
// error identifies one.
func OffendingSeat(err error) (string, bool) {
	var se *SeatError
	if errors.As(err, &se) {
		return se.Label, true
	}
	return "", false
}
