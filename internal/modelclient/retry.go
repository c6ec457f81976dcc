package modelclient

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy configures bounded retries for transient failures. One
// policy object is built per caller and injected wherever a call site
// needs retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including the initial try
	Delay       time.Duration                              // fixed delay between retries when DelayFunc is nil
	ShouldRetry func(error) bool                           // predicate; nil retries every error
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// Do runs fn under the policy, sleeping between attempts and stopping
// early when the predicate rejects the error or ctx ends.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(lastErr) {
			return lastErr
		}
		delay := p.Delay
		if p.DelayFunc != nil {
			delay = p.DelayFunc(attempt, lastErr)
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// ExponentialJitter returns a DelayFunc doubling from base up to max,
// each delay scaled by a random factor in [0.5, 1.5) so synchronized
// workers do not retry in lockstep. A QuotaError's Retry-After hint, when
// longer, wins.
func ExponentialJitter(base, max time.Duration) func(attempt int, err error) time.Duration {
	return func(attempt int, err error) time.Duration {
		delay := base << (attempt - 1)
		if delay > max || delay <= 0 {
			delay = max
		}
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
		if delay > max {
			delay = max
		}
		var qe *QuotaError
		if errors.As(err, &qe) && qe.RetryAfter > delay {
			delay = qe.RetryAfter
		}
		return delay
	}
}

// TransportRetryPolicy is the standard policy for model calls: transient
// transport errors only, randomized exponential backoff.
func TransportRetryPolicy(retries int, base, max time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: IsTransient,
		DelayFunc:   ExponentialJitter(base, max),
	}
}
