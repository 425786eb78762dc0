package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// StartBookingConsumer connects to RabbitMQ, declares the durable
// booking.confirmed queue and consumes it, appending each event to
// logs/booking-audit.log in a single-line format.  It runs a
// reconnect loop with exponential backoff until the context is
// cancelled; processing errors reject the offending message without
// requeueing so a poison message cannot wedge the queue.
func StartBookingConsumer(ctx context.Context, url string, log *logrus.Logger) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			log.Info("booking-consumer stopped")
			return
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.WithError(err).Warnf("booking-consumer: dial failed, retrying in %s", backoff)
			if !sleepOrDone(ctx, backoff) {
				log.Info("booking-consumer stopped")
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		// closing the connection on cancellation ends the deliveries
		// channel, which unblocks consumeLoop
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		err = consumeLoop(conn, log)
		close(done)
		_ = conn.Close()

		if ctx.Err() != nil {
			log.Info("booking-consumer stopped")
			return
		}
		log.WithError(err).Warn("booking-consumer: consume loop ended, reconnecting")
		if !sleepOrDone(ctx, 2*time.Second) {
			log.Info("booking-consumer stopped")
			return
		}
	}
}

// sleepOrDone waits for d and reports true, or returns false early
// when the context is cancelled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(conn *amqp.Connection, log *logrus.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.WithError(err).Warn("booking-consumer: set QoS failed")
	}

	if _, err := ch.QueueDeclare(BookingConfirmedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(BookingConfirmedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := appendAuditLine(d.Body); err != nil {
			log.WithError(err).Warn("booking-consumer: handle message failed")
			_ = d.Nack(false, false) // reject, do not requeue
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func appendAuditLine(body []byte) error {
	var ev BookingConfirmedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	fpath := filepath.Join("logs", "booking-audit.log")
	f, err := os.OpenFile(fpath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	seats := "[]"
	if len(ev.Seats) > 0 {
		seats = fmt.Sprintf("[%s]", strings.Join(ev.Seats, ","))
	}
	line := fmt.Sprintf("[%s] Booking confirmed | booking_id=%s | user_id=%d | show_id=%d | total=%d cents | seats=%s\n",
		ev.ConfirmedAt, ev.BookingID, ev.UserID, ev.ShowID, ev.TotalAmountCents, seats)

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
