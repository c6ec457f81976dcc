package main

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/extract"
	"github.com/torosent/gauntlet/internal/modelclient"
)

type stubCaller struct {
	reply *extract.Reply
	err   error
	calls int
	dep   config.Deployment
}

func (s *stubCaller) Call(_ context.Context, dep config.Deployment, _ *modelclient.Request) (*extract.Reply, error) {
	s.calls++
	s.dep = dep
	return s.reply, s.err
}

func TestTracedCallerDelegates(t *testing.T) {
	stub := &stubCaller{reply: &extract.Reply{Text: "done"}}
	tc := &tracedCaller{caller: stub, tracer: noop.NewTracerProvider().Tracer("test")}

	dep := config.Deployment{Name: "east-1", Transport: config.TransportHTTP}
	reply, err := tc.Call(context.Background(), dep, &modelclient.Request{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if reply.Text != "done" {
		t.Errorf("Text = %q, want done", reply.Text)
	}
	if stub.calls != 1 {
		t.Errorf("delegate called %d times, want 1", stub.calls)
	}
	if stub.dep.Name != "east-1" {
		t.Errorf("delegate saw deployment %q, want east-1", stub.dep.Name)
	}
}

func TestTracedCallerPropagatesError(t *testing.T) {
	stub := &stubCaller{err: errors.New("boom")}
	tc := &tracedCaller{caller: stub, tracer: noop.NewTracerProvider().Tracer("test")}

	if _, err := tc.Call(context.Background(), config.Deployment{Name: "east-1"}, &modelclient.Request{}); err == nil {
		t.Error("error not propagated through the span wrapper")
	}
}
