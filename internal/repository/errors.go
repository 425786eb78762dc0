// Package repository defines error types that are reused across
// multiple repositories.  These sentinel values allow higher layers
// such as the saga and the handlers to distinguish between failure
// scenarios without string matching.
package repository

import "errors"

// ErrShowNotFound is returned when a show ID does not exist.
var ErrShowNotFound = errors.New("show not found")

// ErrLayoutNotFound is returned when a seat layout does not exist.
var ErrLayoutNotFound = errors.New("layout not found")

// ErrBookingNotFound is returned when a booking lookup by ID or
// idempotency key matches nothing.
var ErrBookingNotFound = errors.New("booking not found")

// ErrDuplicateIdempotencyKey is returned when an insert collides
// with the unique index on bookings.idempotency_key.  The saga
// treats this as "someone already created this booking" and
// re-reads the existing record.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// ErrUnsupportedStatus is returned when the store rejects a status
// value, e.g. when the schema has not been migrated to carry it.
// The reaper falls back to CANCELLED on this error.
var ErrUnsupportedStatus = errors.New("unsupported booking status")
