// Package toolsim executes tool calls on behalf of sessions. The
// simulated executor succeeds with a configured probability, which is the
// tool-reliability experiment parameter.
package toolsim

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
)

// Call describes one requested tool invocation.
type Call struct {
	Tool        string
	Args        map[string]any
	Reliability float64
}

// Result is the outcome of one invocation. Payload is set on success,
// Reason on failure; both end up in the session transcript.
type Result struct {
	OK      bool
	Payload string
	Reason  string
}

// Executor invokes tools for a session.
type Executor interface {
	Execute(ctx context.Context, call Call) (Result, error)
}

var failureReasons = []string{
	"upstream dependency timed out",
	"invalid parameter value",
	"resource temporarily unavailable",
	"permission denied by policy",
}

// Simulated rolls against the call's reliability. A seeded source keeps a
// shard's failure pattern reproducible.
type Simulated struct {
	mu   sync.Mutex
	roll func() float64
	seq  int
}

// NewSimulated creates a simulated executor seeded for reproducibility.
func NewSimulated(seed int64) *Simulated {
	rng := rand.New(rand.NewSource(seed))
	return &Simulated{roll: rng.Float64}
}

// NewSimulatedWithRoll creates an executor with an injected roll source.
func NewSimulatedWithRoll(roll func() float64) *Simulated {
	return &Simulated{roll: roll}
}

// Execute simulates the invocation. Successes carry a small JSON payload
// with a unique reference the model can feed into later calls; failures
// carry a rotating reason drawn from common infrastructure errors.
func (s *Simulated) Execute(ctx context.Context, call Call) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	ok := s.roll() < call.Reliability
	s.mu.Unlock()

	if !ok {
		return Result{
			OK:     false,
			Reason: fmt.Sprintf("%s: %s", call.Tool, failureReasons[seq%len(failureReasons)]),
		}, nil
	}

	payload, err := json.Marshal(map[string]any{
		"status": "ok",
		"tool":   call.Tool,
		"ref":    fmt.Sprintf("%s-%d", call.Tool, seq),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode tool payload: %w", err)
	}
	return Result{OK: true, Payload: string(payload)}, nil
}

// NoOp fails every call with a dependency reason. It stands in when tool
// execution is disabled so sessions never hit a missing collaborator, and
// the failure keeps disabled tooling visible in the results instead of
// silently passing.
type NoOp struct{}

func (NoOp) Execute(_ context.Context, call Call) (Result, error) {
	return Result{
		OK:     false,
		Reason: fmt.Sprintf("%s: tool execution is not available", call.Tool),
	}, nil
}
