package handler_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nvaziri/seatbook/internal/handler"
	"github.com/nvaziri/seatbook/internal/model"
	"github.com/nvaziri/seatbook/internal/payment"
	"github.com/nvaziri/seatbook/internal/repository"
)

const webhookSecret = "test-secret"

type reconcilerMock struct{ mock.Mock }

func (m *reconcilerMock) HandlePaymentUpdate(ctx context.Context, bookingID uuid.UUID, status model.PaymentStatus, reason string) error {
	return m.Called(ctx, bookingID, status, reason).Error(0)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func postWebhook(t *testing.T, h *handler.WebhookHandler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(payment.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, h.PaymentOutcome(e.NewContext(req, rec)))
	return rec
}

func TestPaymentOutcome_ValidSignatureDispatchesToSaga(t *testing.T) {
	saga := &reconcilerMock{}
	h := handler.NewWebhookHandler(saga, webhookSecret, quietLogger())

	id := uuid.New()
	body := fmt.Sprintf(`{"booking_id":%q,"status":"SUCCESS","payment_id":"pay-1"}`, id)
	saga.On("HandlePaymentUpdate", mock.Anything, id, model.PaymentSuccess, "").Return(nil)

	rec := postWebhook(t, h, body, payment.Sign(webhookSecret, []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	saga.AssertExpectations(t)
}

func TestPaymentOutcome_BadSignatureRejectedBeforeSaga(t *testing.T) {
	saga := &reconcilerMock{}
	h := handler.NewWebhookHandler(saga, webhookSecret, quietLogger())

	body := fmt.Sprintf(`{"booking_id":%q,"status":"SUCCESS"}`, uuid.New())

	rec := postWebhook(t, h, body, payment.Sign("wrong-secret", []byte(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postWebhook(t, h, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	saga.AssertNotCalled(t, "HandlePaymentUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentOutcome_MalformedPayloadWithValidSignature(t *testing.T) {
	saga := &reconcilerMock{}
	h := handler.NewWebhookHandler(saga, webhookSecret, quietLogger())

	body := `{"booking_id":`
	rec := postWebhook(t, h, body, payment.Sign(webhookSecret, []byte(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = `{"booking_id":"not-a-uuid","status":"SUCCESS"}`
	rec = postWebhook(t, h, body, payment.Sign(webhookSecret, []byte(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	saga.AssertNotCalled(t, "HandlePaymentUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentOutcome_UnknownBookingMapsTo404(t *testing.T) {
	saga := &reconcilerMock{}
	h := handler.NewWebhookHandler(saga, webhookSecret, quietLogger())

	id := uuid.New()
	body := fmt.Sprintf(`{"booking_id":%q,"status":"FAILED","reason":"card declined"}`, id)
	saga.On("HandlePaymentUpdate", mock.Anything, id, model.PaymentFailed, "card declined").
		Return(repository.ErrBookingNotFound)

	rec := postWebhook(t, h, body, payment.Sign(webhookSecret, []byte(body)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
