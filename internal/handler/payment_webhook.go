package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/nvaziri/seatbook/internal/model"
	"github.com/nvaziri/seatbook/internal/payment"
)

// maxWebhookBody caps the payload size read from the processor.
const maxWebhookBody = 64 << 10

// PaymentReconciler is the slice of the orchestrator the webhook
// needs.
type PaymentReconciler interface {
	HandlePaymentUpdate(ctx context.Context, bookingID uuid.UUID, status model.PaymentStatus, reason string) error
}

// WebhookHandler receives asynchronous payment outcomes from the
// processor.  Authenticity is checked with an HMAC signature over
// the raw payload before any booking state is touched; malformed or
// unsigned deliveries are rejected and the processor retries.
type WebhookHandler struct {
	Saga   PaymentReconciler
	Secret string
	Log    *logrus.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(s PaymentReconciler, secret string, log *logrus.Logger) *WebhookHandler {
	if s == nil {
		panic("nil saga passed to NewWebhookHandler")
	}
	return &WebhookHandler{Saga: s, Secret: secret, Log: log}
}

// PaymentOutcome handles POST /v1/payments/webhook.  Delivery is
// at-least-once; the saga treats duplicate outcomes as no-ops, so a
// 200 here only acknowledges receipt.
func (h *WebhookHandler) PaymentOutcome(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}

	sig := c.Request().Header.Get(payment.SignatureHeader)
	if !payment.VerifySignature(h.Secret, body, sig) {
		h.Log.Warn("webhook rejected: bad signature")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
	}

	var ev struct {
		BookingID string `json:"booking_id"`
		Status    string `json:"status"`
		PaymentID string `json:"payment_id"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		h.Log.WithError(err).Warn("webhook rejected: malformed payload")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed payload"})
	}
	bookingID, err := uuid.Parse(ev.BookingID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}

	status := model.PaymentStatus(ev.Status)
	if err := h.Saga.HandlePaymentUpdate(c.Request().Context(), bookingID, status, ev.Reason); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ack": true})
}
