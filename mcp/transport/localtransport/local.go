// Package localtransport provides an in-process transport that serves
// requests from registered method handlers. It backs session and connection
// tests that need an MCP peer without a child process or HTTP server.
package localtransport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/toolbridge-ai/toolbridge/mcp/transport"
)

// Handler serves one JSON-RPC method in-process.
type Handler func(ctx context.Context, params json.RawMessage) (transport.JsonRpcBody, error)

// Transport dispatches outbound requests to local handlers and feeds the
// results back through the inbound message handler.
type Transport struct {
	handlers map[string]Handler

	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	mu             sync.RWMutex

	// Notifications records every one-way message sent, by method.
	notifications []string
}

// New creates an empty local transport.
func New() *Transport {
	return &Transport{
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler for a method, replacing any previous one.
func (t *Transport) Handle(method string, handler Handler) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[method] = handler
	return t
}

// Notifications returns the methods of all notifications sent so far.
func (t *Transport) Notifications() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.notifications...)
}

// Start implements Transport.Start. The local transport is stateless.
func (t *Transport) Start(ctx context.Context) error {
	return nil
}

// Send implements Transport.Send. Requests are served synchronously and the
// response is delivered before Send returns.
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	switch message.Type {
	case transport.BaseMessageTypeJSONRPCNotificationType:
		t.mu.Lock()
		t.notifications = append(t.notifications, message.JsonRpcNotification.Method)
		t.mu.Unlock()
		return nil
	case transport.BaseMessageTypeJSONRPCRequestType:
		return t.serve(ctx, message.JsonRpcRequest)
	default:
		return errors.Errorf("localtransport: unsupported message type: %s", message.Type)
	}
}

func (t *Transport) serve(ctx context.Context, request *transport.BaseJSONRPCRequest) error {
	t.mu.RLock()
	handler := t.handlers[request.Method]
	messageHandler := t.messageHandler
	t.mu.RUnlock()

	if messageHandler == nil {
		return errors.New("localtransport: no message handler installed")
	}

	if handler == nil {
		messageHandler(ctx, transport.NewBaseMessageError(&transport.BaseJSONRPCError{
			Jsonrpc: "2.0",
			Id:      request.Id,
			Error: transport.BaseJSONRPCErrorInner{
				Code:    -32601,
				Message: "method not found: " + request.Method,
			},
		}))
		return nil
	}

	result, err := handler(ctx, request.Params)
	if err != nil {
		messageHandler(ctx, transport.NewBaseMessageError(&transport.BaseJSONRPCError{
			Jsonrpc: "2.0",
			Id:      request.Id,
			Error: transport.BaseJSONRPCErrorInner{
				Code:    -32603,
				Message: err.Error(),
			},
		}))
		return nil
	}

	jsonResult, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "localtransport: failed to marshal result")
	}

	messageHandler(ctx, transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
		Jsonrpc: "2.0",
		Id:      request.Id,
		Result:  jsonResult,
	}))
	return nil
}

// Close implements Transport.Close.
func (t *Transport) Close() error {
	t.mu.RLock()
	closeHandler := t.closeHandler
	t.mu.RUnlock()
	if closeHandler != nil {
		closeHandler()
	}
	return nil
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

var _ transport.Transport = (*Transport)(nil)
