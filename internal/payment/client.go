package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// InitiateRequest asks the processor to start collecting payment for
// a booking.  The idempotency key is forwarded so that a retried
// initiation maps onto the same payment order on the processor side.
type InitiateRequest struct {
	BookingID      uuid.UUID `json:"booking_id"`
	UserID         uint64    `json:"user_id"`
	AmountCents    uint32    `json:"amount_cents"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Handle identifies the payment order created by the processor.
type Handle struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// Client talks to the external payment processor over HTTP.  All
// calls run through the retrier; the processor's endpoint is supplied
// by configuration rather than any runtime discovery.
type Client struct {
	baseURL string
	http    *http.Client
	retrier *Retrier
	log     *logrus.Logger
}

// NewClient returns a payment client for the given base URL.
func NewClient(baseURL string, retrier *Retrier, log *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		retrier: retrier,
		log:     log,
	}
}

// Initiate requests payment initiation.  It returns once the
// processor has accepted the order; completion arrives later through
// the webhook.  Failures after the retrier's own attempts propagate
// to the caller, who leaves the booking INITIATED for the reaper.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*Handle, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal initiate request: %w", err)
	}

	var handle Handle
	err = c.retrier.Do(ctx, "payment.initiate", func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v1/payments", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			// drain so the connection can be reused
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("payment processor returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&handle)
	})
	if err != nil {
		c.log.WithError(err).WithField("booking_id", req.BookingID).Error("payment initiation failed")
		return nil, err
	}
	return &handle, nil
}
