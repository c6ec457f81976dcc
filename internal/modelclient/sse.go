package modelclient

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/torosent/gauntlet/internal/auth"
	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/extract"
	"github.com/torosent/gauntlet/internal/tracing"
)

// sseTransport streams the response and reassembles the assistant text
// from delta events. Native tool-call deltas are not reassembled; tool
// use over SSE rides the JSON action protocol in the text.
type sseTransport struct {
	dep      config.Deployment
	provider string
	client   *http.Client
	auth     auth.Provider
}

func newSSETransport(dep config.Deployment, provider string, client *http.Client, authProvider auth.Provider) *sseTransport {
	return &sseTransport{dep: dep, provider: provider, client: client, auth: authProvider}
}

type sseEvent struct {
	Event string
	Data  string
}

func (t *sseTransport) call(ctx context.Context, req *Request) (*extract.Reply, error) {
	streamed := *req
	streamed.Stream = true
	payload, err := buildPayload(t.provider, &streamed)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.dep.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	setProviderHeaders(httpReq.Header, t.provider)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if err := auth.Inject(ctx, t.auth, httpReq.Header); err != nil {
		return nil, &TransportError{Op: "auth", Err: err}
	}
	tracing.InjectHTTPHeaders(ctx, httpReq.Header)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("model call: %w", err)
		}
		return nil, &TransportError{Op: "connect stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return nil, classifyStatus(t.provider, resp.StatusCode, resp.Header, body)
	}

	return t.consume(ctx, bufio.NewReader(resp.Body))
}

func (t *sseTransport) consume(ctx context.Context, reader *bufio.Reader) (*extract.Reply, error) {
	reply := &extract.Reply{Provider: extract.ProfileFor(t.provider).Name}
	var text strings.Builder

	for {
		event, err := readEvent(ctx, reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("model call: %w", err)
			}
			return nil, &TransportError{Op: "read stream", Err: err}
		}

		if event.Data == "[DONE]" || event.Event == "message_stop" {
			break
		}
		if event.Event == "error" {
			return nil, &TransportError{Op: "stream", Err: errors.New(extract.ErrorMessage(t.provider, []byte(event.Data)))}
		}

		data := []byte(event.Data)
		if delta := gjson.GetBytes(data, "choices.0.delta.content"); delta.Exists() {
			text.WriteString(delta.String())
		}
		if delta := gjson.GetBytes(data, "delta.text"); delta.Exists() {
			text.WriteString(delta.String())
		}
		if fr := gjson.GetBytes(data, "choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
			reply.FinishReason = fr.String()
		}
		if sr := gjson.GetBytes(data, "delta.stop_reason"); sr.Exists() && sr.String() != "" {
			reply.FinishReason = sr.String()
		}
		if n := gjson.GetBytes(data, "usage.completion_tokens"); n.Exists() {
			reply.OutputTokens = int(n.Int())
		}
		if n := gjson.GetBytes(data, "usage.output_tokens"); n.Exists() {
			reply.OutputTokens = int(n.Int())
		}
	}

	reply.Text = text.String()
	reply.Raw = []byte(reply.Text)
	return reply, nil
}

// readEvent reads one SSE event: field lines accumulated until a blank
// line, comments skipped, multi-line data joined with newlines.
func readEvent(ctx context.Context, reader *bufio.Reader) (sseEvent, error) {
	event := sseEvent{}
	var dataLines []string

	for {
		if err := ctx.Err(); err != nil {
			return sseEvent{}, err
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && (len(dataLines) > 0 || event.Event != "") {
				event.Data = strings.Join(dataLines, "\n")
				return event, nil
			}
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(dataLines) > 0 || event.Event != "" {
				event.Data = strings.Join(dataLines, "\n")
				return event, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		colon := strings.Index(line, ":")
		if colon == -1 {
			continue
		}
		field := line[:colon]
		value := line[colon+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}

		switch field {
		case "event":
			event.Event = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}
}

func (t *sseTransport) close() error { return nil }
