// Package handler implements the HTTP surface: booking creation and
// lookup, the raw seat-reservation operations, the payment webhook
// and the health check.  Handlers translate engine and saga errors
// into structured JSON responses; internal detail is logged
// server-side and never leaks to clients.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nvaziri/seatbook/internal/repository"
	"github.com/nvaziri/seatbook/internal/reservation"
	"github.com/nvaziri/seatbook/internal/saga"
)

// respondError maps a domain error to an HTTP response.  Conflicts
// name the offending seat when the engine identified one; unknown
// errors become a generic 500 so storage detail stays server-side.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, reservation.ErrInvalidSeat),
		errors.Is(err, reservation.ErrDuplicateSeat),
		errors.Is(err, reservation.ErrTooManySeats):
		return c.JSON(http.StatusBadRequest, seatBody(err))

	case errors.Is(err, saga.ErrMissingIdempotencyKey):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})

	case errors.Is(err, reservation.ErrSeatAlreadyBooked),
		errors.Is(err, reservation.ErrSeatAlreadyLocked),
		errors.Is(err, reservation.ErrSeatNotLocked),
		errors.Is(err, saga.ErrBookingClosed):
		return c.JSON(http.StatusConflict, seatBody(err))

	case errors.Is(err, repository.ErrShowNotFound),
		errors.Is(err, repository.ErrLayoutNotFound),
		errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})

	default:
		c.Logger().Errorf("internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// seatBody builds the error payload, attaching the conflicting seat
// label when available.
func seatBody(err error) echo.Map {
	body := echo.Map{"error": unwrapSentinel(err).Error()}
	if label, ok := reservation.OffendingSeat(err); ok {
		body["seat"] = label
	}
	return body
}

// unwrapSentinel strips the SeatError wrapper so the client sees the
// stable sentinel message while the seat travels in its own field.
func unwrapSentinel(err error) error {
	var se *reservation.SeatError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}
