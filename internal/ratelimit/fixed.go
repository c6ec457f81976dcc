package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Fixed enforces a hard QPS ceiling. The bucket holds at most one token,
// so calls through it are spaced at least 1/qps apart no matter how many
// workers or processes share the credential.
type Fixed struct {
	state        *stateFile
	qps          float64
	conservative float64
	logger       *slog.Logger
	warnOnce     sync.Once
}

// Acquire blocks until the shared bucket grants a token.
func (f *Fixed) Acquire(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return time.Since(start), err
		}
		wait, err := f.reserve()
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

// reserve refills the bucket from elapsed wall time and either takes a
// token or reports how long until one exists. Another process may win the
// token during that wait, so Acquire re-reserves after sleeping.
func (f *Fixed) reserve() (time.Duration, error) {
	var wait time.Duration
	err := f.state.update(func(st *bucketState, ok bool) {
		rate := f.qps
		if !ok {
			// Unreadable state: fail open at the conservative rate with
			// an empty bucket rather than aborting the run.
			f.warnOnce.Do(func() {
				f.logger.Warn("limiter state unreadable, using conservative rate", "qps", f.conservative)
			})
			rate = f.conservative
			st.Tokens = 0
			st.LastRefill = nowNanos()
		}
		now := nowNanos()
		if st.LastRefill == 0 {
			st.Tokens = 1
			st.LastRefill = now
		} else if now > st.LastRefill {
			elapsed := time.Duration(now - st.LastRefill).Seconds()
			st.Tokens += elapsed * rate
			if st.Tokens > 1 {
				st.Tokens = 1
			}
			st.LastRefill = now
		}
		if st.Tokens >= 1 {
			st.Tokens--
			wait = 0
			return
		}
		wait = time.Duration((1 - st.Tokens) / rate * float64(time.Second))
	})
	return wait, err
}

// NoteSuccess is a no-op; the ceiling does not move.
func (f *Fixed) NoteSuccess() {}

// NoteFailure is a no-op; the ceiling does not move.
func (f *Fixed) NoteFailure() {}

// NoteFailover is a no-op; the ceiling does not move.
func (f *Fixed) NoteFailover() {}
