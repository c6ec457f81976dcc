package modelclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryPolicyRetriesUntilSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, Delay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}

	wantErr := errors.New("still broken")
	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyPredicateStopsRetry(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 5,
		ShouldRetry: IsTransient,
	}

	fatal := &APIError{Status: 400, Message: "bad request"}
	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error should not be retried, got %d calls", calls)
	}
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, Delay: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before ctx expiry, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Do did not abandon the delay on cancel: took %v", elapsed)
	}
}

func TestRetryPolicyZeroAttemptsRunsOnce(t *testing.T) {
	policy := RetryPolicy{}

	calls := 0
	_ = policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestExponentialJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := 800 * time.Millisecond
	delayFn := ExponentialJitter(base, max)

	err := errors.New("transient")
	for attempt := 1; attempt <= 8; attempt++ {
		for i := 0; i < 20; i++ {
			d := delayFn(attempt, err)
			if d < base/2 {
				t.Fatalf("attempt %d: delay %v below half of base", attempt, d)
			}
			if d > max {
				t.Fatalf("attempt %d: delay %v above max", attempt, d)
			}
		}
	}
}

func TestExponentialJitterGrows(t *testing.T) {
	delayFn := ExponentialJitter(100*time.Millisecond, time.Hour)

	err := errors.New("transient")
	// With jitter in [0.5, 1.5) the minimum at attempt 4 (800ms base)
	// still exceeds the maximum at attempt 1 (150ms).
	first := delayFn(1, err)
	fourth := delayFn(4, err)
	if fourth <= first {
		t.Errorf("expected growth: attempt 1 = %v, attempt 4 = %v", first, fourth)
	}
}

func TestExponentialJitterRespectsRetryAfter(t *testing.T) {
	delayFn := ExponentialJitter(10*time.Millisecond, 100*time.Millisecond)

	quota := &QuotaError{Status: 429, Message: "slow down", RetryAfter: 2 * time.Second}
	d := delayFn(1, quota)
	if d != 2*time.Second {
		t.Errorf("expected Retry-After hint to win, got %v", d)
	}

	// A hint shorter than the computed backoff is ignored.
	short := &QuotaError{Status: 429, RetryAfter: time.Nanosecond}
	if d := delayFn(4, short); d < time.Millisecond {
		t.Errorf("short hint should not shrink the backoff, got %v", d)
	}
}

func TestTransportRetryPolicyShape(t *testing.T) {
	policy := TransportRetryPolicy(2, 10*time.Millisecond, 100*time.Millisecond)

	if policy.MaxAttempts != 3 {
		t.Errorf("2 retries should mean 3 attempts, got %d", policy.MaxAttempts)
	}
	if !policy.ShouldRetry(&TransportError{Op: "request", Err: errors.New("reset")}) {
		t.Error("transport errors should be retryable")
	}
	if policy.ShouldRetry(&QuotaError{Status: 429}) {
		t.Error("quota errors belong to failover, not retry")
	}
	if policy.ShouldRetry(&FatalAuthError{Status: 401}) {
		t.Error("auth errors are fatal, not retryable")
	}
}
