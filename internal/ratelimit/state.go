package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// bucketState is the on-disk record shared by sibling processes. Fixed
// limiters use Tokens/LastRefill, adaptive limiters use Interval/LastCall
// and the failure counter. Times are unix nanoseconds.
type bucketState struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"last_refill"`
	Interval   int64   `json:"interval"`
	LastCall   int64   `json:"last_call"`
	Failures   int     `json:"failures"`
}

// stateFile owns one bucket file plus its sibling lock file. Every
// read-modify-write runs under an exclusive flock so processes sharing a
// credential never double-spend a token.
type stateFile struct {
	path string
	lock *flock.Flock
}

func newStateFile(dir string, key Key) *stateFile {
	if dir == "" {
		dir = ".gauntlet/limiter"
	}
	base := filepath.Join(dir, key.String())
	return &stateFile{
		path: base + ".json",
		lock: flock.New(base + ".lock"),
	}
}

// update locks the file, hands the current state to fn and persists
// whatever fn leaves behind. A missing file yields a zero state; an
// unreadable one yields a zero state and ok=false so callers can fail
// open instead of erroring.
func (s *stateFile) update(fn func(st *bucketState, ok bool)) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create limiter state dir: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock limiter state: %w", err)
	}
	defer s.lock.Unlock()

	st, ok := s.read()
	fn(&st, ok)

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode limiter state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write limiter state: %w", err)
	}
	return nil
}

func (s *stateFile) read() (bucketState, bool) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return bucketState{}, true
	}
	if err != nil {
		return bucketState{}, false
	}
	var st bucketState
	if err := json.Unmarshal(data, &st); err != nil {
		return bucketState{}, false
	}
	return st, true
}

func nowNanos() int64 { return time.Now().UnixNano() }
