package connections_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/toolbridge-ai/toolbridge/mcp/transport"
)

// mockServer is an HTTP+SSE MCP server for connection tests. It answers the
// handshake, serves a configurable tool roster, and echoes tool calls.
type mockServer struct {
	t *testing.T

	failTools bool
	tools     []map[string]any

	mu      sync.Mutex
	flusher http.Flusher
	writer  http.ResponseWriter

	ts *httptest.Server
}

func newMockServer(t *testing.T) *mockServer {
	s := &mockServer{
		t: t,
		tools: []map[string]any{
			{
				"name":        "lookup_weather",
				"description": "Returns the weather for a city",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"city": map[string]any{"type": "string"},
					},
					"required": []string{"city"},
				},
			},
		},
	}
	s.ts = httptest.NewServer(s.handler())
	t.Cleanup(s.ts.Close)
	return s
}

func (s *mockServer) url() string {
	return s.ts.URL + "/sse"
}

func (s *mockServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		flusher, ok := w.(http.Flusher)
		require.True(s.t, ok)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		s.mu.Lock()
		s.writer = w
		s.flusher = flusher
		s.mu.Unlock()

		fmt.Fprintf(w, "event: endpoint\ndata: /messages\n\n")
		flusher.Flush()

		<-r.Context().Done()
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(s.t, err)

		message, err := transport.ParseMessage(body)
		require.NoError(s.t, err)

		if message.Type == transport.BaseMessageTypeJSONRPCNotificationType {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		require.Equal(s.t, transport.BaseMessageTypeJSONRPCRequestType, message.Type)

		req := message.JsonRpcRequest
		switch req.Method {
		case "initialize":
			s.respond(req.Id, map[string]any{
				"protocolVersion": "2024-11-05",
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": "mock", "version": "1.0.0"},
			})
		case "tools/list":
			if s.failTools {
				s.respondError(req.Id, -32603, "tool enumeration disabled")
			} else {
				s.respond(req.Id, map[string]any{"tools": s.tools})
			}
		case "tools/call":
			var p struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			require.NoError(s.t, json.Unmarshal(req.Params, &p))
			s.respond(req.Id, map[string]any{
				"content": []map[string]any{
					{"type": "text", "text": "called " + p.Name},
				},
			})
		default:
			s.respondError(req.Id, -32601, "method not found: "+req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func (s *mockServer) respond(id transport.RequestId, result any) {
	data, err := json.Marshal(result)
	require.NoError(s.t, err)
	s.emit(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  json.RawMessage(data),
	})
}

func (s *mockServer) respondError(id transport.RequestId, code int, message string) {
	s.emit(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

func (s *mockServer) emit(message any) {
	data, err := json.Marshal(message)
	require.NoError(s.t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.writer, "event: message\ndata: %s\n\n", data)
	s.flusher.Flush()
}
