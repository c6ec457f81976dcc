// Package modelclient sends chat requests to model deployments over the
// configured transport (HTTP, SSE, WebSocket or gRPC) and normalizes both
// responses and failures. Errors map onto the harness taxonomy: quota
// rejections trigger failover, transient transport errors are retried in
// place with jittered backoff, auth rejections are shard-fatal, and the
// per-call timeout is terminal for the session.
package modelclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/torosent/gauntlet/internal/auth"
	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/extract"
	"github.com/torosent/gauntlet/internal/tracing"
)

const maxResponseBytes = 8 << 20

// Options tunes one endpoint's caller.
type Options struct {
	APITimeout time.Duration
	Retries    int
	RetryBase  time.Duration
	RetryMax   time.Duration
}

type transport interface {
	call(ctx context.Context, req *Request) (*extract.Reply, error)
	close() error
}

// Caller fans an endpoint's calls out to per-deployment transports,
// building and caching each transport on first use.
type Caller struct {
	endpoint config.Endpoint
	registry *auth.Registry
	client   *http.Client
	retry    RetryPolicy
	timeout  time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	transports map[string]transport
}

// NewCaller builds the caller for one endpoint.
func NewCaller(ep config.Endpoint, registry *auth.Registry, opts Options, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.APITimeout
	if ep.APITimeout > 0 {
		timeout = ep.APITimeout
	}
	return &Caller{
		endpoint:   ep,
		registry:   registry,
		client:     NewHTTPClient(),
		retry:      TransportRetryPolicy(opts.Retries, opts.RetryBase, opts.RetryMax),
		timeout:    timeout,
		logger:     logger,
		transports: make(map[string]transport),
	}
}

// Call sends one request to the given deployment. Transient transport
// errors are retried here; every other failure returns to the session for
// failover or termination.
func (c *Caller) Call(ctx context.Context, dep config.Deployment, req *Request) (*extract.Reply, error) {
	tr, err := c.transportFor(dep)
	if err != nil {
		return nil, err
	}

	var reply *extract.Reply
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		r, callErr := tr.call(callCtx, req)
		if callErr != nil {
			return callErr
		}
		reply = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Close releases every cached transport.
func (c *Caller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for name, tr := range c.transports {
		if err := tr.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close transport %s: %w", name, err)
		}
	}
	c.transports = make(map[string]transport)
	return firstErr
}

func (c *Caller) transportFor(dep config.Deployment) (transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tr, ok := c.transports[dep.Name]; ok {
		return tr, nil
	}

	provider, err := c.registry.Provider(dep.Credential)
	if err != nil {
		return nil, err
	}

	var tr transport
	switch dep.Transport {
	case config.TransportSSE:
		tr = newSSETransport(dep, c.endpoint.Provider, c.client, provider)
	case config.TransportWebSocket:
		tr = newWSTransport(dep, c.endpoint.Provider, provider)
	case config.TransportGRPC:
		tr = newGRPCTransport(dep, c.endpoint.Provider, provider)
	default:
		tr = &httpTransport{dep: dep, provider: c.endpoint.Provider, client: c.client, auth: provider}
	}
	c.transports[dep.Name] = tr
	return tr, nil
}

// httpTransport posts the payload and reads the full response body.
type httpTransport struct {
	dep      config.Deployment
	provider string
	client   *http.Client
	auth     auth.Provider
}

func (t *httpTransport) call(ctx context.Context, req *Request) (*extract.Reply, error) {
	payload, err := buildPayload(t.provider, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.dep.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	setProviderHeaders(httpReq.Header, t.provider)
	if err := auth.Inject(ctx, t.auth, httpReq.Header); err != nil {
		return nil, &TransportError{Op: "auth", Err: err}
	}
	tracing.InjectHTTPHeaders(ctx, httpReq.Header)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("model call: %w", err)
		}
		return nil, &TransportError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("model call: %w", err)
		}
		return nil, &TransportError{Op: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(t.provider, resp.StatusCode, resp.Header, body)
	}

	reply := extract.Parse(t.provider, body)
	return &reply, nil
}

func (t *httpTransport) close() error { return nil }

func setProviderHeaders(h http.Header, provider string) {
	h.Set("Content-Type", "application/json")
	if provider == "anthropic" {
		h.Set("anthropic-version", "2023-06-01")
	}
}

// NewHTTPClient builds the shared HTTP client. Timeouts are governed by
// the per-call context, not the client, so streaming reads are not cut
// off mid-body.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          256,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
