// Package client implements the MCP client session: JSON-RPC request
// correlation over a pluggable transport, the initialize handshake, and the
// tools/list and tools/call operations.
package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/mcp/transport"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge/mcp", "client")

// DefaultRequestTimeoutMsec is the per-request timeout when the caller's
// context does not impose a tighter one.
const DefaultRequestTimeoutMsec = 60000

// ProtocolVersion is the MCP revision this client negotiates.
const ProtocolVersion = "2024-11-05"

var (
	// ErrProtocolNegotiation reports a failed initialize handshake.
	ErrProtocolNegotiation = errors.New("protocol negotiation failed")
	// ErrToolDiscovery reports a failed tools/list exchange.
	ErrToolDiscovery = errors.New("tool discovery failed")
	// ErrToolInvocation reports a failed tools/call exchange.
	ErrToolInvocation = errors.New("tool invocation failed")
)

// Implementation identifies one side of the session.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's half of the handshake.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// ToolInfo is one tool as advertised by the server.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ListToolsResult is the tools/list response payload.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the tools/call response payload.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text joins the textual blocks of the result.
func (r *CallToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type responseEnvelope struct {
	result json.RawMessage
	err    error
}

// Session is an MCP client session bound to one transport. All public
// methods are safe for concurrent use.
type Session struct {
	transport transport.Transport
	info      Implementation

	requestMessageID transport.RequestId
	responseHandlers map[transport.RequestId]chan *responseEnvelope
	mu               sync.Mutex

	serverInfo *InitializeResult
}

// NewSession creates a session identifying itself with the given client info.
func NewSession(info Implementation) *Session {
	return &Session{
		info:             info,
		responseHandlers: make(map[transport.RequestId]chan *responseEnvelope),
	}
}

// Connect attaches to the transport and starts it. The handshake is a
// separate step so callers control its deadline.
func (s *Session) Connect(ctx context.Context, tr transport.Transport) error {
	s.transport = tr

	tr.SetCloseHandler(func() {
		s.failPending(errors.New("connection closed"))
	})
	tr.SetErrorHandler(func(err error) {
		logger.KV(xlog.DEBUG, "reason", "transport_error", "err", err.Error())
	})
	tr.SetMessageHandler(func(_ context.Context, message *transport.BaseJsonRpcMessage) {
		switch message.Type {
		case transport.BaseMessageTypeJSONRPCResponseType:
			s.deliver(message.JsonRpcResponse.Id, &responseEnvelope{result: message.JsonRpcResponse.Result})
		case transport.BaseMessageTypeJSONRPCErrorType:
			inner := message.JsonRpcError.Error
			s.deliver(message.JsonRpcError.Id, &responseEnvelope{
				err: errors.Errorf("RPC error %d: %s", inner.Code, inner.Message),
			})
		default:
			// Requests and notifications from the server are not handled
			// by this client.
			logger.KV(xlog.DEBUG, "reason", "unhandled_message", "type", message.Type)
		}
	})

	return tr.Start(ctx)
}

// Initialize performs the handshake and announces readiness.
func (s *Session) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      s.info,
	}

	raw, err := s.request(ctx, "initialize", params)
	if err != nil {
		return nil, errors.WithMessagef(ErrProtocolNegotiation, "%s", err.Error())
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.WithMessagef(ErrProtocolNegotiation, "invalid initialize result: %s", err.Error())
	}

	if err := s.notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, errors.WithMessagef(ErrProtocolNegotiation, "%s", err.Error())
	}

	s.mu.Lock()
	s.serverInfo = &result
	s.mu.Unlock()

	logger.KV(xlog.DEBUG,
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion,
	)
	return &result, nil
}

// ServerInfo returns the handshake result, or nil before Initialize.
func (s *Session) ServerInfo() *InitializeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// ListTools fetches the server's tool roster.
func (s *Session) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := s.request(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, errors.WithMessagef(ErrToolDiscovery, "%s", err.Error())
	}

	var result ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.WithMessagef(ErrToolDiscovery, "invalid tools/list result: %s", err.Error())
	}
	return result.Tools, nil
}

// CallTool invokes one tool with the given arguments.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	raw, err := s.request(ctx, "tools/call", params)
	if err != nil {
		return nil, errors.WithMessagef(ErrToolInvocation, "tool %s: %s", name, err.Error())
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.WithMessagef(ErrToolInvocation, "tool %s: invalid result: %s", name, err.Error())
	}
	return &result, nil
}

// Close tears down the transport and fails all in-flight requests.
func (s *Session) Close() error {
	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.failPending(errors.New("session closed"))
	return err
}

// request sends one request and waits for its response, the caller's
// context, or the default timeout, whichever comes first.
func (s *Session) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.transport == nil {
		return nil, errors.New("not connected")
	}

	marshalledParams, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}

	s.mu.Lock()
	id := s.requestMessageID
	s.requestMessageID++
	ch := make(chan *responseEnvelope, 1)
	s.responseHandlers[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.responseHandlers, id)
		s.mu.Unlock()
	}()

	request := &transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  marshalledParams,
		Id:      id,
	}
	if err := s.transport.Send(ctx, transport.NewBaseMessageRequest(request)); err != nil {
		return nil, errors.Wrapf(err, "failed to send %s", method)
	}

	timeout := time.Duration(DefaultRequestTimeoutMsec) * time.Millisecond

	select {
	case envelope := <-ch:
		if envelope.err != nil {
			return nil, envelope.err
		}
		return envelope.result, nil
	case <-ctx.Done():
		_ = s.sendCancelNotification(id, ctx.Err().Error())
		return nil, ctx.Err()
	case <-time.After(timeout):
		_ = s.sendCancelNotification(id, "request timeout")
		return nil, errors.Errorf("request timeout after %v", timeout)
	}
}

func (s *Session) notify(ctx context.Context, method string, params any) error {
	var marshalledParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to marshal params")
		}
		marshalledParams = data
	}

	notification := &transport.BaseJSONRPCNotification{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  marshalledParams,
	}
	return s.transport.Send(ctx, transport.NewBaseMessageNotification(notification))
}

func (s *Session) sendCancelNotification(requestID transport.RequestId, reason string) error {
	return s.notify(context.Background(), "notifications/cancelled", map[string]any{
		"requestId": requestID,
		"reason":    reason,
	})
}

func (s *Session) deliver(id transport.RequestId, envelope *responseEnvelope) {
	s.mu.Lock()
	ch := s.responseHandlers[id]
	s.mu.Unlock()

	if ch != nil {
		ch <- envelope
	}
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.responseHandlers {
		select {
		case ch <- &responseEnvelope{err: err}:
		default:
		}
		delete(s.responseHandlers, id)
	}
}
