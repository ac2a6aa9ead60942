// Package sse implements the client side of the MCP HTTP+SSE binding. The
// client holds a long-lived event-stream GET open for inbound messages and
// posts outbound messages to the endpoint the server advertises in its
// first event.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/mcp/transport"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge/mcp/transport", "sse")

// DefaultEndpointWait bounds how long Start waits for the server to
// advertise its message endpoint.
const DefaultEndpointWait = 30 * time.Second

// Transport is a client transport over an HTTP server-sent-events channel.
type Transport struct {
	url        string
	token      string
	httpClient *http.Client

	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	mu             sync.RWMutex

	endpoint   string
	endpointCh chan struct{}

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates an SSE transport for the given stream URL.
func New(streamURL string) *Transport {
	return &Transport{
		url:        streamURL,
		httpClient: http.DefaultClient,
		endpointCh: make(chan struct{}),
	}
}

// WithToken sets a bearer credential passed on every request.
func (t *Transport) WithToken(token string) *Transport {
	t.token = token
	return t
}

// WithHTTPClient overrides the HTTP client used for the stream and posts.
func (t *Transport) WithHTTPClient(client *http.Client) *Transport {
	t.httpClient = client
	return t
}

// Start opens the event stream and blocks until the server advertises its
// message endpoint, or the wait times out.
func (t *Transport) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return errors.Wrap(err, "sse: invalid stream URL")
	}
	req.Header.Set("Accept", "text/event-stream")
	t.setAuth(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return errors.Wrapf(err, "sse: failed to connect to %s", t.url)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return errors.Errorf("sse: stream request returned %d", resp.StatusCode)
	}

	go t.readLoop(streamCtx, resp)

	select {
	case <-t.endpointCh:
		return nil
	case <-ctx.Done():
		t.closeStream()
		return errors.Wrap(ctx.Err(), "sse: waiting for endpoint")
	case <-time.After(DefaultEndpointWait):
		t.closeStream()
		return errors.New("sse: server did not advertise a message endpoint")
	}
}

func (t *Transport) readLoop(ctx context.Context, resp *http.Response) {
	defer func() {
		_ = resp.Body.Close()
		t.mu.RLock()
		closeHandler := t.closeHandler
		t.mu.RUnlock()
		if closeHandler != nil {
			closeHandler()
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if data != "" {
				t.dispatchEvent(ctx, event, data)
			}
			event, data = "", ""
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		t.handleError(errors.Wrap(err, "sse: stream read failed"))
	}
}

func (t *Transport) dispatchEvent(ctx context.Context, event, data string) {
	switch event {
	case "endpoint":
		endpoint, err := t.resolveEndpoint(data)
		if err != nil {
			t.handleError(err)
			return
		}
		t.mu.Lock()
		first := t.endpoint == ""
		t.endpoint = endpoint
		t.mu.Unlock()

		logger.KV(xlog.DEBUG, "status", "endpoint", "url", endpoint)
		if first {
			close(t.endpointCh)
		}
	default:
		message, err := transport.ParseMessage([]byte(data))
		if err != nil {
			t.handleError(errors.Wrap(err, "sse: failed to parse event"))
			return
		}

		t.mu.RLock()
		handler := t.messageHandler
		t.mu.RUnlock()
		if handler != nil {
			handler(ctx, message)
		}
	}
}

// setAuth attaches the bearer credential when one is configured.
func (t *Transport) setAuth(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
}

// resolveEndpoint interprets the advertised endpoint relative to the
// stream URL, accepting both absolute and path-only forms.
func (t *Transport) resolveEndpoint(raw string) (string, error) {
	base, err := url.Parse(t.url)
	if err != nil {
		return "", errors.Wrap(err, "sse: invalid stream URL")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "sse: invalid endpoint %q", raw)
	}
	return base.ResolveReference(ref).String(), nil
}

// Send posts one message to the advertised endpoint.
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	t.mu.RLock()
	endpoint := t.endpoint
	t.mu.RUnlock()
	if endpoint == "" {
		return errors.New("sse: not connected")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "sse: failed to marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "sse: failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	t.setAuth(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "sse: post failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return errors.Errorf("sse: post returned %d", resp.StatusCode)
	}
	return nil
}

// Close shuts the event stream down. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(t.closeStream)
	return nil
}

func (t *Transport) closeStream() {
	if t.cancel != nil {
		t.cancel()
	}
}

// SetCloseHandler implements Transport.SetCloseHandler.
func (t *Transport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler.
func (t *Transport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler.
func (t *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

func (t *Transport) handleError(err error) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

var _ transport.Transport = (*Transport)(nil)
