package fetch

import (
	"context"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"
)

// Operation is one fetch attempt executed under the retry policy.
type Operation func(ctx context.Context) ([]byte, error)

// RetryPolicy wraps an operation with bounded retries and exponential
// backoff with jitter. Policies hold no mutable state, so one value may be
// shared by any number of workers.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the source site's tolerances: three attempts,
// one second base delay, capped at thirty seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Execute runs op until it succeeds, fails permanently, or the attempt
// budget runs out. Only transient errors are retried; permanent errors and
// context cancellation propagate immediately. The backoff sleep itself is
// interruptible by ctx.
func (p RetryPolicy) Execute(ctx context.Context, op Operation) ([]byte, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := op(ctx)
		if err == nil {
			return data, nil
		}
		if !IsTransient(err) {
			// Permanent errors and cancellation are not worth another attempt.
			return nil, err
		}
		lastErr = err
		log.WithError(err).Debugf("Attempt %d/%d failed", attempt, attempts)

		if attempt == attempts {
			break
		}
		if err := p.sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}

	return nil, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// sleep blocks for the backoff delay of the given attempt, or until ctx is
// cancelled.
func (p RetryPolicy) sleep(ctx context.Context, attempt int) error {
	delay := p.backoff(attempt)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// backoff doubles the base delay per attempt, caps it, and jitters the
// result in [delay/2, delay) so workers hitting the same host desynchronize.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := base << uint(attempt-1)
	if delay > max || delay <= 0 {
		delay = max
	}
	half := delay / 2
	return half + rand.N(half+1)
}
