package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/torosent/gauntlet/internal/config"
)

func newTestStore(t *testing.T, cfg config.LimiterConfig) *Store {
	t.Helper()
	if cfg.StateDir == "" {
		cfg.StateDir = t.TempDir()
	}
	return NewStore(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFixedSpacing(t *testing.T) {
	store := newTestStore(t, config.LimiterConfig{})
	lim := store.Fixed(Key{Endpoint: "ep", Credential: "cred"}, 10)

	const calls = 4
	start := time.Now()
	for i := 0; i < calls; i++ {
		if _, err := lim.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	// 4 calls at 10 qps need at least 300ms of spacing after the first.
	if elapsed < 290*time.Millisecond {
		t.Errorf("4 calls at 10 qps finished in %v, want >= ~300ms", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("4 calls at 10 qps took %v, limiter is over-waiting", elapsed)
	}
}

func TestFixedSharedState(t *testing.T) {
	dir := t.TempDir()
	key := Key{Endpoint: "ep", Credential: "shared"}
	a := newTestStore(t, config.LimiterConfig{StateDir: dir}).Fixed(key, 10)
	b := newTestStore(t, config.LimiterConfig{StateDir: dir}).Fixed(key, 10)

	start := time.Now()
	for i := 0; i < 4; i++ {
		lim := a
		if i%2 == 1 {
			lim = b
		}
		if _, err := lim.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	// Both limiters draw from the same file, so spacing holds across them.
	if elapsed < 290*time.Millisecond {
		t.Errorf("4 interleaved calls finished in %v, want >= ~300ms", elapsed)
	}
}

func TestFixedReportsWait(t *testing.T) {
	store := newTestStore(t, config.LimiterConfig{})
	lim := store.Fixed(Key{Endpoint: "ep", Credential: "cred"}, 5)

	if _, err := lim.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	wait, err := lim.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if wait < 150*time.Millisecond {
		t.Errorf("second acquire reported wait %v, want >= ~200ms at 5 qps", wait)
	}
}

func TestFixedFailOpenOnCorruptState(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, config.LimiterConfig{StateDir: dir, ConservativeQPS: 5})
	lim := store.Fixed(Key{Endpoint: "ep", Credential: "cred"}, 100)

	if err := os.WriteFile(lim.state.path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, err := lim.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire with corrupt state: %v", err)
	}
	elapsed := time.Since(start)

	// Corrupt state empties the bucket and drops to the conservative
	// rate, so the first token costs a full 1/5s interval.
	if elapsed < 150*time.Millisecond {
		t.Errorf("acquire after corrupt state took %v, want conservative pacing >= ~200ms", elapsed)
	}
}

func TestFixedAcquireHonorsContext(t *testing.T) {
	store := newTestStore(t, config.LimiterConfig{})
	lim := store.Fixed(Key{Endpoint: "ep", Credential: "cred"}, 0.1)

	if _, err := lim.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := lim.Acquire(ctx)
	if err == nil {
		t.Fatal("acquire returned nil error, want context deadline")
	}
	if time.Since(start) > time.Second {
		t.Errorf("acquire ignored context for %v", time.Since(start))
	}
}

func TestFixedZeroQPSFallsBackToConservative(t *testing.T) {
	store := newTestStore(t, config.LimiterConfig{ConservativeQPS: 2})
	lim := store.Fixed(Key{Endpoint: "ep", Credential: "cred"}, 0)
	if lim.qps != 2 {
		t.Errorf("qps = %v, want conservative fallback 2", lim.qps)
	}
}
