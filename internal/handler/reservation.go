package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nvaziri/seatbook/internal/middleware"
	"github.com/nvaziri/seatbook/internal/model"
	"github.com/nvaziri/seatbook/internal/reservation"
	"github.com/nvaziri/seatbook/internal/saga"
)

// SeatEngine is the slice of the reservation engine the seat
// endpoints need.
type SeatEngine interface {
	LockSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID string, ttl time.Duration) (*reservation.LockResult, error)
	UnlockSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID string) (int, error)
	ConfirmSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID, bookingID string) (int, error)
	ExpireLocks(ctx context.Context, showID uint64) (int, error)
	Availability(ctx context.Context, showID uint64) ([]reservation.SeatStatus, error)
}

// ShowGate answers whether a show still accepts bookings.
type ShowGate interface {
	ShowByID(ctx context.Context, showID uint64) (*model.Show, error)
}

// ReservationHandler exposes the raw seat-engine operations.  The
// booking saga is the primary consumer of the engine; these
// endpoints exist for clients that drive seat selection directly and
// for operational recovery.
type ReservationHandler struct {
	Engine  SeatEngine
	Shows   ShowGate
	LockTTL time.Duration
}

// NewReservationHandler constructs a ReservationHandler using the
// given default lock TTL.
func NewReservationHandler(engine SeatEngine, shows ShowGate, lockTTL time.Duration) *ReservationHandler {
	if engine == nil {
		panic("nil engine passed to NewReservationHandler")
	}
	return &ReservationHandler{Engine: engine, Shows: shows, LockTTL: lockTTL}
}

func showIDParam(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id != 0
}

// Lock handles POST /v1/shows/:id/seats/lock.  The body names the
// seats and the client's session correlator; all seats lock together
// or none do.
func (h *ReservationHandler) Lock(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := showIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}

	var body struct {
		Seats     []string `json:"seats"`
		SessionID string   `json:"session_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Seats) == 0 || body.SessionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats and session_id are required"})
	}

	show, err := h.Shows.ShowByID(c.Request().Context(), showID)
	if err != nil {
		return respondError(c, err)
	}
	if !show.AcceptsBookings(time.Now().UTC()) {
		return respondError(c, saga.ErrBookingClosed)
	}

	result, err := h.Engine.LockSeats(c.Request().Context(), showID, body.Seats, userID, body.SessionID, h.LockTTL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"seats":      result.Seats,
		"locked_at":  result.LockedAt.Format(time.RFC3339),
		"expires_at": result.ExpiresAt.Format(time.RFC3339),
	})
}

// Unlock handles POST /v1/shows/:id/seats/unlock.  Seats not held by
// the caller are skipped silently; a request that released nothing
// at all reports a conflict so clients can tell a late unlock from a
// successful one.
func (h *ReservationHandler) Unlock(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := showIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}

	var body struct {
		Seats     []string `json:"seats"`
		SessionID string   `json:"session_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Seats) == 0 || body.SessionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats and session_id are required"})
	}

	released, err := h.Engine.UnlockSeats(c.Request().Context(), showID, body.Seats, userID, body.SessionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// Confirm handles POST /v1/shows/:id/seats/confirm.  Retried
// confirmations for the same booking id are no-ops.
func (h *ReservationHandler) Confirm(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := showIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}

	var body struct {
		Seats     []string `json:"seats"`
		SessionID string   `json:"session_id"`
		BookingID string   `json:"booking_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Seats) == 0 || body.SessionID == "" || body.BookingID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats, session_id and booking_id are required"})
	}

	confirmed, err := h.Engine.ConfirmSeats(c.Request().Context(), showID, body.Seats, userID, body.SessionID, body.BookingID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"confirmed": confirmed})
}

// Expire handles POST /v1/shows/:id/seats/expire, the administrative
// bulk release of all outstanding locks for a show.  Booked bits are
// untouched.
func (h *ReservationHandler) Expire(c echo.Context) error {
	if _, ok := middleware.UserID(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := showIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}

	released, err := h.Engine.ExpireLocks(c.Request().Context(), showID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// Availability handles GET /v1/shows/:id/seats, reporting each
// seat's FREE/LOCKED/BOOKED state.
func (h *ReservationHandler) Availability(c echo.Context) error {
	showID, ok := showIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}

	seats, err := h.Engine.Availability(c.Request().Context(), showID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seats": seats})
}
