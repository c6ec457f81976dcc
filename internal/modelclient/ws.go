package modelclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/gauntlet/internal/auth"
	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/extract"
)

// wsTransport speaks a one-frame-per-call protocol: the provider payload
// goes out as one text frame and the full response body comes back as the
// next one. The connection is dialed lazily and dropped on any error so
// the following call redials.
type wsTransport struct {
	dep      config.Deployment
	provider string
	auth     auth.Provider
	dialer   *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSTransport(dep config.Deployment, provider string, authProvider auth.Provider) *wsTransport {
	return &wsTransport{
		dep:      dep,
		provider: provider,
		auth:     authProvider,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

func (t *wsTransport) call(ctx context.Context, req *Request) (*extract.Reply, error) {
	payload, err := buildPayload(t.provider, req)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		if err := t.dial(ctx); err != nil {
			return nil, err
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
		t.conn.SetReadDeadline(deadline)
	}

	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.drop()
		return nil, t.asCallError(ctx, "write frame", err)
	}

	_, body, err := t.conn.ReadMessage()
	if err != nil {
		t.drop()
		return nil, t.asCallError(ctx, "read frame", err)
	}

	reply := extract.Parse(t.provider, body)
	return &reply, nil
}

func (t *wsTransport) dial(ctx context.Context) error {
	header := http.Header{}
	if err := auth.Inject(ctx, t.auth, header); err != nil {
		return &TransportError{Op: "auth", Err: err}
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.dep.URL, header)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return &FatalAuthError{Status: resp.StatusCode, Message: "websocket handshake rejected"}
			}
			return &TransportError{Op: "dial", Err: fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)}
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("model call: %w", err)
		}
		return &TransportError{Op: "dial", Err: err}
	}
	t.conn = conn
	return nil
}

// asCallError maps a frame error, preserving timeout semantics: an
// expired context is the per-call timeout, everything else is transient.
// The read deadline mirrors the context deadline and can fire a moment
// before the context's own timer, so the deadline is checked directly.
func (t *wsTransport) asCallError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("model call: %w", ctxErr)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("model call: %w", context.DeadlineExceeded)
	}
	return &TransportError{Op: op, Err: err}
}

func (t *wsTransport) drop() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func (t *wsTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)
	err := t.conn.Close()
	t.conn = nil
	return err
}
