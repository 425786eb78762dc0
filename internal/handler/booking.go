package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nvaziri/seatbook/internal/middleware"
	"github.com/nvaziri/seatbook/internal/saga"
)

// BookingSaga is the slice of the orchestrator the booking endpoints
// need.
type BookingSaga interface {
	CreateBooking(ctx context.Context, req saga.CreateBookingRequest) (*saga.BookingResult, error)
	BookingByID(ctx context.Context, id uuid.UUID) (*saga.BookingDetail, error)
}

// BookingHandler exposes booking creation and lookup.  JWT
// authentication has already run; the user ID comes from the request
// context.
type BookingHandler struct {
	Saga BookingSaga
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(s BookingSaga) *BookingHandler {
	if s == nil {
		panic("nil saga passed to NewBookingHandler")
	}
	return &BookingHandler{Saga: s}
}

// Create handles POST /v1/bookings.  The body carries the client's
// idempotency key, the show and the seat labels.  A payment
// initiation failure still returns the created booking so the client
// can retry with the same key, but signals the degraded state with
// 502.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var body struct {
		IdempotencyKey string   `json:"idempotency_key"`
		ShowID         uint64   `json:"show_id"`
		Seats          []string `json:"seats"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ShowID == 0 || len(body.Seats) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "show_id and seats are required"})
	}

	result, err := h.Saga.CreateBooking(c.Request().Context(), saga.CreateBookingRequest{
		IdempotencyKey: body.IdempotencyKey,
		UserID:         userID,
		ShowID:         body.ShowID,
		SeatLabels:     body.Seats,
	})
	if err != nil {
		if errors.Is(err, saga.ErrPaymentInitiation) && result != nil {
			return c.JSON(http.StatusBadGateway, echo.Map{
				"error":   "payment initiation failed",
				"booking": result,
			})
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"booking": result})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	if _, ok := middleware.UserID(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}

	detail, err := h.Saga.BookingByID(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": detail})
}
