package sse_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolbridge-ai/toolbridge/mcp/transport"
	"github.com/toolbridge-ai/toolbridge/mcp/transport/sse"
)

// sseServer is a minimal HTTP+SSE peer. It advertises a message endpoint
// on the stream and echoes every posted request back as a response event.
type sseServer struct {
	mu      sync.Mutex
	flusher http.Flusher
	writer  http.ResponseWriter
	ready   chan struct{}
	auth    []string
}

func newSSEServer() *sseServer {
	return &sseServer{ready: make(chan struct{})}
}

func (s *sseServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		s.recordAuth(r)

		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		s.mu.Lock()
		s.writer = w
		s.flusher = flusher
		s.mu.Unlock()

		fmt.Fprintf(w, "event: endpoint\ndata: /messages\n\n")
		flusher.Flush()
		close(s.ready)

		<-r.Context().Done()
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		s.recordAuth(r)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req transport.BaseJSONRPCRequest
		require.NoError(t, json.Unmarshal(body, &req))

		resp := transport.BaseJSONRPCResponse{
			Jsonrpc: "2.0",
			Id:      req.Id,
			Result:  json.RawMessage(`{"ok":true}`),
		}
		s.send(t, resp)
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func (s *sseServer) recordAuth(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = append(s.auth, r.Header.Get("Authorization"))
}

func (s *sseServer) authHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

func (s *sseServer) send(t *testing.T, message any) {
	data, err := json.Marshal(message)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.writer, "event: message\ndata: %s\n\n", data)
	s.flusher.Flush()
}

func TestTransport_StartAdvertisesEndpoint(t *testing.T) {
	server := newSSEServer()
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	tr := sse.New(ts.URL + "/sse")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, tr.Start(ctx))
	defer func() { _ = tr.Close() }()
}

func TestTransport_RoundTrip(t *testing.T) {
	server := newSSEServer()
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	tr := sse.New(ts.URL + "/sse")

	received := make(chan *transport.BaseJsonRpcMessage, 1)
	tr.SetMessageHandler(func(_ context.Context, message *transport.BaseJsonRpcMessage) {
		received <- message
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	defer func() { _ = tr.Close() }()

	req := transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      7,
		Method:  "tools/list",
	})
	require.NoError(t, tr.Send(ctx, req))

	select {
	case message := <-received:
		require.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, message.Type)
		require.NotNil(t, message.JsonRpcResponse)
		assert.Equal(t, transport.RequestId(7), message.JsonRpcResponse.Id)
	case <-time.After(5 * time.Second):
		t.Fatal("no response received on the event stream")
	}
}

func TestTransport_BearerToken(t *testing.T) {
	server := newSSEServer()
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	tr := sse.New(ts.URL + "/sse").WithToken("secret-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	defer func() { _ = tr.Close() }()

	require.NoError(t, tr.Send(ctx, transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      1,
		Method:  "tools/list",
	})))

	headers := server.authHeaders()
	require.Len(t, headers, 2)
	for _, h := range headers {
		assert.Equal(t, "Bearer secret-token", h)
	}
}

func TestTransport_SendBeforeStart(t *testing.T) {
	tr := sse.New("http://localhost:0/sse")
	err := tr.Send(context.Background(), transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      1,
		Method:  "ping",
	}))
	assert.Error(t, err)
}

func TestTransport_StartRejectsBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	tr := sse.New(ts.URL + "/sse")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := tr.Start(ctx)
	assert.Error(t, err)
}
