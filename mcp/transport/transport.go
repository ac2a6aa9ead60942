// Package transport defines the pluggable byte-level transports used by the
// MCP client session, along with the JSON-RPC message framing they carry.
package transport

import (
	"context"
	"encoding/json"
)

// RequestId is a JSON-RPC request identifier, unique within one session.
type RequestId int64

// JsonRpcBody is a deserialized JSON-RPC result payload.
type JsonRpcBody any

// BaseJSONRPCRequest is an outgoing or incoming JSON-RPC request.
type BaseJSONRPCRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Id      RequestId       `json:"id"`
}

// BaseJSONRPCNotification is a one-way JSON-RPC message without an id.
type BaseJSONRPCNotification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCResponse is a successful JSON-RPC response.
type BaseJSONRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// BaseJSONRPCErrorInner carries the code and message of an error response.
type BaseJSONRPCErrorInner struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BaseJSONRPCError is a JSON-RPC error response.
type BaseJSONRPCError struct {
	Jsonrpc string                `json:"jsonrpc"`
	Id      RequestId             `json:"id"`
	Error   BaseJSONRPCErrorInner `json:"error"`
}

// BaseMessageType discriminates the union held by BaseJsonRpcMessage.
type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJsonRpcMessage is a tagged union over the four JSON-RPC message kinds.
type BaseJsonRpcMessage struct {
	Type                BaseMessageType
	JsonRpcRequest      *BaseJSONRPCRequest
	JsonRpcNotification *BaseJSONRPCNotification
	JsonRpcResponse     *BaseJSONRPCResponse
	JsonRpcError        *BaseJSONRPCError
}

// NewBaseMessageRequest wraps a request into the message union.
func NewBaseMessageRequest(request *BaseJSONRPCRequest) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:           BaseMessageTypeJSONRPCRequestType,
		JsonRpcRequest: request,
	}
}

// NewBaseMessageNotification wraps a notification into the message union.
func NewBaseMessageNotification(notification *BaseJSONRPCNotification) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:                BaseMessageTypeJSONRPCNotificationType,
		JsonRpcNotification: notification,
	}
}

// NewBaseMessageResponse wraps a response into the message union.
func NewBaseMessageResponse(response *BaseJSONRPCResponse) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:            BaseMessageTypeJSONRPCResponseType,
		JsonRpcResponse: response,
	}
}

// NewBaseMessageError wraps an error response into the message union.
func NewBaseMessageError(errorResponse *BaseJSONRPCError) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:         BaseMessageTypeJSONRPCErrorType,
		JsonRpcError: errorResponse,
	}
}

// MessageID returns the request id carried by the message, or 0 for
// notifications.
func (m *BaseJsonRpcMessage) MessageID() RequestId {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return m.JsonRpcRequest.Id
	case BaseMessageTypeJSONRPCResponseType:
		return m.JsonRpcResponse.Id
	case BaseMessageTypeJSONRPCErrorType:
		return m.JsonRpcError.Id
	default:
		return 0
	}
}

// MarshalJSON emits the wrapped message without the union envelope.
func (m *BaseJsonRpcMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return json.Marshal(m.JsonRpcRequest)
	case BaseMessageTypeJSONRPCNotificationType:
		return json.Marshal(m.JsonRpcNotification)
	case BaseMessageTypeJSONRPCErrorType:
		return json.Marshal(m.JsonRpcError)
	default:
		return json.Marshal(m.JsonRpcResponse)
	}
}

// ParseMessage partially deserializes a raw frame into the message union.
// A frame with an "error" member is an error response, one with a "result"
// member is a response, one with an "id" is a request, anything else with a
// "method" is a notification.
func ParseMessage(body []byte) (*BaseJsonRpcMessage, error) {
	var probe struct {
		Id     *RequestId             `json:"id"`
		Method string                 `json:"method"`
		Result json.RawMessage        `json:"result"`
		Error  *BaseJSONRPCErrorInner `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, err
	}

	switch {
	case probe.Error != nil:
		var errorResponse BaseJSONRPCError
		if err := json.Unmarshal(body, &errorResponse); err != nil {
			return nil, err
		}
		return NewBaseMessageError(&errorResponse), nil
	case probe.Result != nil:
		var response BaseJSONRPCResponse
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, err
		}
		return NewBaseMessageResponse(&response), nil
	case probe.Method != "" && probe.Id != nil:
		var request BaseJSONRPCRequest
		if err := json.Unmarshal(body, &request); err != nil {
			return nil, err
		}
		return NewBaseMessageRequest(&request), nil
	default:
		var notification BaseJSONRPCNotification
		if err := json.Unmarshal(body, &notification); err != nil {
			return nil, err
		}
		return NewBaseMessageNotification(&notification), nil
	}
}

// Transport is a bidirectional channel carrying JSON-RPC messages between
// the client session and one tool server.
type Transport interface {
	// Start begins processing messages, returning once the transport is
	// ready to send.
	Start(ctx context.Context) error
	// Send delivers one message to the remote end.
	Send(ctx context.Context, message *BaseJsonRpcMessage) error
	// Close tears the channel down; safe to call more than once.
	Close() error

	// SetCloseHandler sets the callback for when the connection is closed
	// for any reason.
	SetCloseHandler(handler func())
	// SetErrorHandler sets the callback for out-of-band transport errors.
	SetErrorHandler(handler func(error))
	// SetMessageHandler sets the callback invoked for every inbound message.
	SetMessageHandler(handler func(ctx context.Context, message *BaseJsonRpcMessage))
}
