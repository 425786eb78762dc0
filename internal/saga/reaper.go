package saga

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nvaziri/seatbook/internal/model"
	"github.com/nvaziri/seatbook/internal/repository"
	"github.com/nvaziri/seatbook/internal/reservation"
)

// ReaperConfig carries the sweep tunables.
type ReaperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// Timeout is how long a booking may sit in INITIATED before it
	// is considered abandoned.  It should exceed the payment
	// processor's normal completion time.
	Timeout time.Duration
	// BatchSize bounds one sweep's work.
	BatchSize int
}

// Reaper terminates bookings abandoned in INITIATED: their seats are
// released best-effort and the booking turns EXPIRED.  The seat
// locks self-expire via TTL regardless, so the unlock here is an
// optimization, not a correctness requirement; the booking record is
// what actually needs the sweep.
type Reaper struct {
	bookings BookingStore
	engine   SeatEngine
	cfg      ReaperConfig
	log      *logrus.Logger
	now      func() time.Time
}

// NewReaper returns a reaper over the given stores.
func NewReaper(bookings BookingStore, engine SeatEngine, cfg ReaperConfig, log *logrus.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reaper{bookings: bookings, engine: engine, cfg: cfg, log: log, now: time.Now}
}

// Run sweeps on a fixed period until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.WithField("interval", r.cfg.Interval).Info("booking reaper started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("booking reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep processes one batch of abandoned bookings.  One booking's
// failure must never block the rest of the batch, so every error is
// logged and the loop moves on.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := r.now().UTC().Add(-r.cfg.Timeout)
	stale, err := r.bookings.StaleInitiated(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		r.log.WithError(err).Error("stale booking query failed")
		return
	}
	if len(stale) == 0 {
		return
	}
	r.log.WithField("count", len(stale)).Info("reaping abandoned bookings")

	for i := range stale {
		if err := r.reapOne(ctx, &stale[i]); err != nil {
			r.log.WithError(err).WithField("booking_id", stale[i].ID).Error("reap failed")
		}
	}
}

func (r *Reaper) reapOne(ctx context.Context, b *model.Booking) error {
	seats, err := r.bookings.Seats(ctx, b.ID)
	if err != nil {
		return err
	}
	labels := make([]string, 0, len(seats))
	for _, s := range seats {
		labels = append(labels, s.SeatLabel)
	}

	if !b.SeatsUnlocked && len(labels) > 0 {
		if _, err := r.engine.UnlockSeats(ctx, b.ShowID, labels, b.UserID, b.SeatSessionID); err != nil && !errors.Is(err, reservation.ErrSeatNotLocked) {
			// the locks also self-expire, keep going
			r.log.WithError(err).WithField("booking_id", b.ID).Warn("best-effort unlock failed during reap")
		}
		b.SeatsUnlocked = true
	}

	b.Status = model.BookingExpired
	b.PaymentStatus = model.PaymentFailed
	if err := r.bookings.UpdateOutcome(ctx, b); err != nil {
		if !errors.Is(err, repository.ErrUnsupportedStatus) {
			return err
		}
		// schema without the EXPIRED value; CANCELLED is the
		// agreed fallback
		b.Status = model.BookingCancelled
		if err := r.bookings.UpdateOutcome(ctx, b); err != nil {
			return err
		}
	}
	r.log.WithField("booking_id", b.ID).Info("booking expired by reaper")
	return nil
}
