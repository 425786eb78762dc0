// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/nvaziri/seatbook/internal/handler"
	"github.com/nvaziri/seatbook/internal/middleware"
)

// Deps bundles everything route registration needs.
type Deps struct {
	Bookings    *handler.BookingHandler
	Seats       *handler.ReservationHandler
	Webhook     *handler.WebhookHandler
	JWTSecret   string
	RateLimit   middleware.RateLimitConfig
	RedisClient *redis.Client
}

// Register wires all routes onto the Echo instance.  The webhook
// authenticates with its HMAC signature instead of a bearer token,
// so it lives outside the protected group; availability is public so
// clients can render a seat map before signing in.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)

	// payment processor callback, HMAC-verified in the handler
	e.POST("/v1/payments/webhook", d.Webhook.PaymentOutcome)

	// public seat map
	e.GET("/v1/shows/:id/seats", d.Seats.Availability)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(d.JWTSecret))

	limited := auth.Group("")
	limited.Use(middleware.RateLimit(d.RateLimit, d.RedisClient))

	limited.POST("/bookings", d.Bookings.Create)
	auth.GET("/bookings/:id", d.Bookings.Get)

	limited.POST("/shows/:id/seats/lock", d.Seats.Lock)
	auth.POST("/shows/:id/seats/unlock", d.Seats.Unlock)
	auth.POST("/shows/:id/seats/confirm", d.Seats.Confirm)
	auth.POST("/shows/:id/seats/expire", d.Seats.Expire)
}
