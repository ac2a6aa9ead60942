package localtransport_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolbridge-ai/toolbridge/mcp/transport"
	"github.com/toolbridge-ai/toolbridge/mcp/transport/localtransport"
)

func TestTransport_ServeRequest(t *testing.T) {
	tr := localtransport.New()
	tr.Handle("ping", func(_ context.Context, _ json.RawMessage) (transport.JsonRpcBody, error) {
		return map[string]any{"pong": true}, nil
	})

	var got *transport.BaseJsonRpcMessage
	tr.SetMessageHandler(func(_ context.Context, message *transport.BaseJsonRpcMessage) {
		got = message
	})

	ctx := context.Background()
	require.NoError(t, tr.Start(ctx))

	err := tr.Send(ctx, transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      3,
		Method:  "ping",
	}))
	require.NoError(t, err)

	require.NotNil(t, got)
	require.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, got.Type)
	assert.Equal(t, transport.RequestId(3), got.JsonRpcResponse.Id)
	assert.JSONEq(t, `{"pong":true}`, string(got.JsonRpcResponse.Result))
}

func TestTransport_HandlerError(t *testing.T) {
	tr := localtransport.New()
	tr.Handle("boom", func(_ context.Context, _ json.RawMessage) (transport.JsonRpcBody, error) {
		return nil, errors.New("exploded")
	})

	var got *transport.BaseJsonRpcMessage
	tr.SetMessageHandler(func(_ context.Context, message *transport.BaseJsonRpcMessage) {
		got = message
	})

	err := tr.Send(context.Background(), transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      1,
		Method:  "boom",
	}))
	require.NoError(t, err)

	require.NotNil(t, got)
	require.Equal(t, transport.BaseMessageTypeJSONRPCErrorType, got.Type)
	assert.Contains(t, got.JsonRpcError.Error.Message, "exploded")
}

func TestTransport_MethodNotFound(t *testing.T) {
	tr := localtransport.New()

	var got *transport.BaseJsonRpcMessage
	tr.SetMessageHandler(func(_ context.Context, message *transport.BaseJsonRpcMessage) {
		got = message
	})

	err := tr.Send(context.Background(), transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      9,
		Method:  "missing",
	}))
	require.NoError(t, err)

	require.NotNil(t, got)
	require.Equal(t, transport.BaseMessageTypeJSONRPCErrorType, got.Type)
	assert.Equal(t, -32601, got.JsonRpcError.Error.Code)
}

func TestTransport_RecordsNotifications(t *testing.T) {
	tr := localtransport.New()

	err := tr.Send(context.Background(), transport.NewBaseMessageNotification(&transport.BaseJSONRPCNotification{
		Jsonrpc: "2.0",
		Method:  "notifications/initialized",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"notifications/initialized"}, tr.Notifications())
}
