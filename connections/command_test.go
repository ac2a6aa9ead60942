package connections_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolbridge-ai/toolbridge/connections"
)

func TestCommandConnection_SpawnAndDelegate(t *testing.T) {
	server := newMockServer(t)

	conn := connections.NewCommand(&connections.ServerConfig{
		Name:    "spawned",
		Type:    connections.TypeCommand,
		Command: "sleep 60",
	}, t.TempDir())
	conn.Endpoint = server.url()

	ctx := testContext(t)
	require.NoError(t, conn.Connect(ctx))
	assert.Equal(t, connections.StateConnected, conn.State())

	tools, err := conn.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	result, err := conn.CallTool(ctx, "lookup_weather", map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, "called lookup_weather", result.Text())

	require.NoError(t, conn.Release())
	assert.Equal(t, connections.StateDisconnected, conn.State())

	// Idempotent.
	require.NoError(t, conn.Release())
}

func TestCommandConnection_NoCommand(t *testing.T) {
	tcases := []struct {
		name    string
		command string
	}{
		{"empty", ""},
		{"whitespace_only", "   "},
		{"tabs_and_spaces", " \t "},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			conn := connections.NewCommand(&connections.ServerConfig{
				Name:    "spawned",
				Type:    connections.TypeCommand,
				Command: tc.command,
			}, t.TempDir())

			err := conn.Connect(testContext(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, connections.ErrTransportUnavailable))
			assert.Contains(t, err.Error(), "no command configured")
			assert.Equal(t, connections.StateDisconnected, conn.State())
		})
	}
}

func TestCommandConnection_WorkingDirNotFound(t *testing.T) {
	conn := connections.NewCommand(&connections.ServerConfig{
		Name:    "spawned",
		Type:    connections.TypeCommand,
		Command: "sleep 60",
		Cwd:     "no-such-dir",
	}, t.TempDir())

	err := conn.Connect(testContext(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, connections.ErrTransportUnavailable))
	assert.Contains(t, err.Error(), "no-such-dir")
}

func TestCommandConnection_CommandNotFound(t *testing.T) {
	conn := connections.NewCommand(&connections.ServerConfig{
		Name:    "spawned",
		Type:    connections.TypeCommand,
		Command: "definitely-not-a-command-xyz",
	}, t.TempDir())

	err := conn.Connect(testContext(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, connections.ErrTransportUnavailable))
	assert.Contains(t, err.Error(), "definitely-not-a-command-xyz")
}

func TestCommandConnection_ReadyDeadline(t *testing.T) {
	conn := connections.NewCommand(&connections.ServerConfig{
		Name:    "spawned",
		Type:    connections.TypeCommand,
		Command: "sleep 60",
	}, t.TempDir())
	conn.Endpoint = "http://127.0.0.1:1/sse"
	conn.ReadyDeadline = 500 * time.Millisecond

	start := time.Now()
	err := conn.Connect(testContext(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, connections.ErrTransportUnavailable))
	assert.Contains(t, err.Error(), "did not become ready")
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, connections.StateDisconnected, conn.State())
}
