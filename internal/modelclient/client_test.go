package modelclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/gauntlet/internal/auth"
	"github.com/torosent/gauntlet/internal/config"
)

const openaiReply = `{
	"choices": [{"message": {"content": "All steps completed."}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 40, "completion_tokens": 12}
}`

func testRegistry(t *testing.T) *auth.Registry {
	t.Helper()
	registry, err := auth.NewRegistry([]config.Credential{
		{Name: "key-a", Token: "secret-a"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}

func testCaller(t *testing.T, url string, opts Options) (*Caller, config.Deployment) {
	t.Helper()
	ep := config.Endpoint{
		Name:     "primary",
		Provider: "openai",
		Deployments: []config.Deployment{
			{Name: "east", URL: url, Credential: "key-a"},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	caller := NewCaller(ep, testRegistry(t), opts, logger)
	t.Cleanup(func() { caller.Close() })
	return caller, ep.Deployments[0]
}

func chatRequest() *Request {
	return &Request{
		Model: "test-model",
		Messages: []Message{
			{Role: "system", Content: "You are being evaluated."},
			{Role: "user", Content: "Process record r-1."},
		},
	}
}

func TestCallReturnsReply(t *testing.T) {
	var gotAuth, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		fmt.Fprint(w, openaiReply)
	}))
	defer server.Close()

	caller, dep := testCaller(t, server.URL, Options{})
	reply, err := caller.Call(context.Background(), dep, chatRequest())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if reply.Text != "All steps completed." {
		t.Errorf("unexpected text: %q", reply.Text)
	}
	if reply.FinishReason != "stop" {
		t.Errorf("unexpected finish reason: %q", reply.FinishReason)
	}
	if reply.InputTokens != 40 || reply.OutputTokens != 12 {
		t.Errorf("unexpected token counts: in=%d out=%d", reply.InputTokens, reply.OutputTokens)
	}
	if gotAuth != "Bearer secret-a" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
}

func TestCallRetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, openaiReply)
	}))
	defer server.Close()

	caller, dep := testCaller(t, server.URL, Options{Retries: 3, RetryBase: time.Millisecond, RetryMax: 5 * time.Millisecond})
	reply, err := caller.Call(context.Background(), dep, chatRequest())
	if err != nil {
		t.Fatalf("Call failed after retries: %v", err)
	}
	if reply.Text != "All steps completed." {
		t.Errorf("unexpected text: %q", reply.Text)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("expected 3 requests (2 failures + success), got %d", got)
	}
}

func TestCallGivesUpAfterRetryBudget(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	caller, dep := testCaller(t, server.URL, Options{Retries: 2, RetryBase: time.Millisecond, RetryMax: 2 * time.Millisecond})
	_, err := caller.Call(context.Background(), dep, chatRequest())
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestCallQuotaErrorNotRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limit exceeded"}}`)
	}))
	defer server.Close()

	caller, dep := testCaller(t, server.URL, Options{Retries: 3, RetryBase: time.Millisecond})
	_, err := caller.Call(context.Background(), dep, chatRequest())

	var quota *QuotaError
	if !errors.As(err, &quota) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if quota.Status != http.StatusTooManyRequests {
		t.Errorf("unexpected status: %d", quota.Status)
	}
	if quota.Message != "rate limit exceeded" {
		t.Errorf("unexpected message: %q", quota.Message)
	}
	if quota.RetryAfter != 7*time.Second {
		t.Errorf("expected Retry-After hint of 7s, got %v", quota.RetryAfter)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("quota errors belong to failover, expected 1 request, got %d", got)
	}
}

func TestCallAuthErrorIsFatal(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer server.Close()

	caller, dep := testCaller(t, server.URL, Options{Retries: 3, RetryBase: time.Millisecond})
	_, err := caller.Call(context.Background(), dep, chatRequest())
	if !IsFatalAuth(err) {
		t.Fatalf("expected fatal auth error, got %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("auth errors should not be retried, got %d requests", got)
	}
}

func TestCallBadRequestIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "unknown model"}}`)
	}))
	defer server.Close()

	caller, dep := testCaller(t, server.URL, Options{})
	_, err := caller.Call(context.Background(), dep, chatRequest())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "unknown model" {
		t.Errorf("unexpected message: %q", apiErr.Message)
	}
	if IsTransient(err) || IsQuota(err) || IsFatalAuth(err) {
		t.Error("API errors must not match any other category")
	}
}

func TestCallTimeoutIsTerminal(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(400 * time.Millisecond)
		fmt.Fprint(w, openaiReply)
	}))
	defer server.Close()

	caller, dep := testCaller(t, server.URL, Options{APITimeout: 50 * time.Millisecond, Retries: 3, RetryBase: time.Millisecond})
	_, err := caller.Call(context.Background(), dep, chatRequest())
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if IsTransient(err) {
		t.Error("timeouts must not look transient or they would be retried")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestCallEndpointTimeoutOverridesOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, openaiReply)
	}))
	defer server.Close()

	ep := config.Endpoint{
		Name:       "primary",
		Provider:   "openai",
		APITimeout: 50 * time.Millisecond,
		Deployments: []config.Deployment{
			{Name: "east", URL: server.URL, Credential: "key-a"},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	caller := NewCaller(ep, testRegistry(t), Options{APITimeout: 5 * time.Second}, logger)
	defer caller.Close()

	_, err := caller.Call(context.Background(), ep.Deployments[0], chatRequest())
	if !IsTimeout(err) {
		t.Fatalf("expected the endpoint's tighter timeout to apply, got %v", err)
	}
}

func TestCallAnthropicVersionHeader(t *testing.T) {
	var gotVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "done"}], "stop_reason": "end_turn"}`)
	}))
	defer server.Close()

	ep := config.Endpoint{
		Name:     "primary",
		Provider: "anthropic",
		Deployments: []config.Deployment{
			{Name: "east", URL: server.URL, Credential: "key-a"},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	caller := NewCaller(ep, testRegistry(t), Options{}, logger)
	defer caller.Close()

	reply, err := caller.Call(context.Background(), ep.Deployments[0], chatRequest())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if gotVersion == "" {
		t.Error("anthropic calls must carry the anthropic-version header")
	}
	if reply.Text != "done" {
		t.Errorf("unexpected text: %q", reply.Text)
	}
}

func TestCallUnknownCredential(t *testing.T) {
	caller, _ := testCaller(t, "http://localhost:0", Options{})
	dep := config.Deployment{Name: "ghost", URL: "http://localhost:0", Credential: "missing"}
	_, err := caller.Call(context.Background(), dep, chatRequest())
	if err == nil {
		t.Fatal("expected error for unconfigured credential")
	}
}

func TestCallerReusesTransports(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, openaiReply)
	}))
	defer server.Close()

	caller, dep := testCaller(t, server.URL, Options{})
	if _, err := caller.Call(context.Background(), dep, chatRequest()); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if _, err := caller.Call(context.Background(), dep, chatRequest()); err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	caller.mu.Lock()
	cached := len(caller.transports)
	caller.mu.Unlock()
	if cached != 1 {
		t.Errorf("expected one cached transport, got %d", cached)
	}
}

func TestRetryAfterHTTPDate(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", time.Now().Add(30*time.Second).UTC().Format(http.TimeFormat))
	d := retryAfter(header)
	if d <= 0 || d > 31*time.Second {
		t.Errorf("expected roughly 30s from HTTP-date form, got %v", d)
	}

	header.Set("Retry-After", "garbage")
	if d := retryAfter(header); d != 0 {
		t.Errorf("unparseable header should yield 0, got %v", d)
	}
}
