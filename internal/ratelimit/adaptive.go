package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Adaptive has no ceiling. It runs unthrottled until failures engage a
// paced interval: each consecutive failure doubles the interval up to the
// configured maximum, each success halves it until pacing disengages, and
// a failover drops it to the floor interval so a fresh deployment is not
// hit at full speed.
type Adaptive struct {
	state       *stateFile
	minInterval time.Duration
	maxInterval time.Duration
	logger      *slog.Logger
	warnOnce    sync.Once
}

// Acquire blocks until the current pacing interval has elapsed since the
// last call. Unthrottled buckets grant immediately.
func (a *Adaptive) Acquire(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return time.Since(start), err
		}
		wait, err := a.reserve()
		if err != nil {
			return time.Since(start), err
		}
		if wait <= 0 {
			return time.Since(start), nil
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return time.Since(start), err
		}
	}
}

func (a *Adaptive) reserve() (time.Duration, error) {
	var wait time.Duration
	err := a.state.update(func(st *bucketState, ok bool) {
		if !ok {
			a.warnOnce.Do(func() {
				a.logger.Warn("limiter state unreadable, pacing at floor interval", "interval", a.minInterval)
			})
			*st = bucketState{Interval: int64(a.minInterval)}
		}
		now := nowNanos()
		if st.Interval <= 0 {
			st.LastCall = now
			wait = 0
			return
		}
		next := st.LastCall + st.Interval
		if now >= next {
			st.LastCall = now
			wait = 0
			return
		}
		wait = time.Duration(next - now)
	})
	return wait, err
}

// NoteSuccess clears the failure streak and halves any pacing interval,
// disengaging it once it falls below the floor.
func (a *Adaptive) NoteSuccess() {
	a.mutate(func(st *bucketState) {
		st.Failures = 0
		if st.Interval == 0 {
			return
		}
		st.Interval /= 2
		if time.Duration(st.Interval) < a.minInterval {
			st.Interval = 0
		}
	})
}

// NoteFailure extends the failure streak and doubles the pacing interval,
// engaging it at the floor on the first failure.
func (a *Adaptive) NoteFailure() {
	a.mutate(func(st *bucketState) {
		st.Failures++
		next := time.Duration(st.Interval) * 2
		if st.Interval == 0 {
			next = a.minInterval
		}
		if next > a.maxInterval {
			next = a.maxInterval
		}
		st.Interval = int64(next)
	})
}

// NoteFailover clears the streak and pins the interval to the floor so
// throughput rebuilds from scratch against the new deployment.
func (a *Adaptive) NoteFailover() {
	a.mutate(func(st *bucketState) {
		st.Failures = 0
		st.Interval = int64(a.minInterval)
	})
}

func (a *Adaptive) mutate(fn func(*bucketState)) {
	err := a.state.update(func(st *bucketState, ok bool) {
		if !ok {
			*st = bucketState{}
		}
		fn(st)
	})
	if err != nil {
		a.logger.Warn("limiter state update failed", "error", err)
	}
}
