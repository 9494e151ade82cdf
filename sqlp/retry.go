package sqlp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy bounds how a serializable transaction is retried.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // backoff before the second attempt
	MaxDelay    time.Duration // backoff cap
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries serialization failures up to 5 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		Retryable:   IsSerializationFailure,
	}
}

// RetryError is returned once every attempt failed with a retryable error.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("sqlp: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Run calls fn until it succeeds, fails with a non retryable error, or attempts run out.
func (p RetryPolicy) Run(ctx context.Context, logger zerolog.Logger, fn func(context.Context) error) error {
	p = p.withDefaults()
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil || !p.Retryable(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return &RetryError{Attempts: attempt, Err: err}
		}

		delay := p.Backoff(attempt)
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying transaction")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}

// Backoff returns the delay after the given failed attempt: exponential from BaseDelay, capped
// at MaxDelay, with the upper half jittered.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, p.MaxDelay)
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Retryable == nil {
		p.Retryable = def.Retryable
	}
	return p
}
