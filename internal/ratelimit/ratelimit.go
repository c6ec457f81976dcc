// Package ratelimit provides per (endpoint, credential) token buckets for
// pacing model calls. Fixed buckets enforce a hard QPS ceiling; adaptive
// buckets run unthrottled until failures force a paced interval. Bucket
// state lives in files so sibling shard processes sharing a credential
// observe the same budget.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/torosent/gauntlet/internal/config"
)

// Key identifies one shared bucket.
type Key struct {
	Endpoint   string
	Credential string
}

func (k Key) String() string {
	return sanitize(k.Endpoint) + "__" + sanitize(k.Credential)
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "none"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}

// Limiter paces calls against one endpoint/credential pair.
type Limiter interface {
	// Acquire blocks until a call slot is free and reports how long the
	// caller waited. It returns early with ctx.Err() when ctx ends, which
	// is how the session wall-clock budget bounds it.
	Acquire(ctx context.Context) (time.Duration, error)

	// NoteSuccess records a successful call.
	NoteSuccess()

	// NoteFailure records a failed call; adaptive limiters back off on
	// consecutive failures.
	NoteFailure()

	// NoteFailover records a failover event; adaptive limiters drop to
	// their paced floor.
	NoteFailover()
}

// Store builds limiters that share state under one directory.
type Store struct {
	dir          string
	conservative float64
	minInterval  time.Duration
	maxInterval  time.Duration
	logger       *slog.Logger
}

// NewStore creates a limiter store from the limiter configuration.
func NewStore(cfg config.LimiterConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	conservative := cfg.ConservativeQPS
	if conservative <= 0 {
		conservative = 0.5
	}
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}
	maxInterval := cfg.MaxInterval
	if maxInterval < minInterval {
		maxInterval = 60 * time.Second
	}
	return &Store{
		dir:          cfg.StateDir,
		conservative: conservative,
		minInterval:  minInterval,
		maxInterval:  maxInterval,
		logger:       logger,
	}
}

// Fixed returns a hard-ceiling limiter for the key. A non-positive qps
// falls back to the conservative rate.
func (s *Store) Fixed(key Key, qps float64) *Fixed {
	if qps <= 0 {
		qps = s.conservative
	}
	return &Fixed{
		state:        newStateFile(s.dir, key),
		qps:          qps,
		conservative: s.conservative,
		logger:       s.logger.With("limiter", key.String()),
	}
}

// Adaptive returns an uncapped limiter that backs off on failures.
func (s *Store) Adaptive(key Key) *Adaptive {
	return &Adaptive{
		state:       newStateFile(s.dir, key),
		minInterval: s.minInterval,
		maxInterval: s.maxInterval,
		logger:      s.logger.With("limiter", key.String()),
	}
}

// For picks the limiter implementation for the given concurrency mode.
func (s *Store) For(mode config.ConcurrencyMode, key Key, qps float64) Limiter {
	if mode == config.ModeAdaptive {
		return s.Adaptive(key)
	}
	return s.Fixed(key, qps)
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
