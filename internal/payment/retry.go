// Package payment holds the outbound payment-processor client, the
// bounded retry/circuit-breaker decorator applied to downstream
// calls, and the webhook signature scheme.
package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned when the breaker is open and the call
// was not attempted.
var ErrCircuitOpen = errors.New("circuit open")

// RetryConfig parameterizes a Retrier.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per call, including
	// the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; it doubles per
	// attempt up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// FailureThreshold is how many consecutive failed calls open the
	// breaker.
	FailureThreshold int
	// CoolDown is how long the breaker stays open before allowing a
	// probe call through.
	CoolDown time.Duration
}

// Retrier wraps outbound calls with bounded retry, exponential
// backoff and a consecutive-failure circuit breaker.  A degraded
// downstream therefore costs a bounded number of round-trips per
// request and, once the breaker opens, none at all until the
// cool-down elapses.  Safe for concurrent use.
type Retrier struct {
	cfg RetryConfig
	log *logrus.Logger

	mu        sync.Mutex
	failures  int
	openUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier with the given configuration.  Zero
// fields fall back to conservative defaults.
func NewRetrier(cfg RetryConfig, log *logrus.Logger) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	return &Retrier{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Do runs fn with retry and breaker semantics.  op names the call in
// logs.  Context cancellation aborts both the call and the backoff
// wait.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	if !r.allow() {
		return ErrCircuitOpen
	}

	var err error
	delay := r.cfg.BaseDelay
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			r.recordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < r.cfg.MaxAttempts {
			r.log.WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempt,
			}).WithError(err).Warn("downstream call failed, retrying")
			if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
				break
			}
			delay *= 2
			if delay > r.cfg.MaxDelay {
				delay = r.cfg.MaxDelay
			}
		}
	}

	r.recordFailure(op)
	return err
}

// allow reports whether a call may proceed, honouring the open state.
func (r *Retrier) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.now().Before(r.openUntil)
}

func (r *Retrier) recordSuccess() {
	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()
}

func (r *Retrier) recordFailure(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	if r.failures >= r.cfg.FailureThreshold {
		r.openUntil = r.now().Add(r.cfg.CoolDown)
		r.failures = 0
		r.log.WithField("op", op).Warnf("circuit opened for %s", r.cfg.CoolDown)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
