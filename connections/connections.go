// Package connections manages the lifecycle of MCP server connections: the
// stdio, sse and command transports, plus the registry that resolves server
// names to configurations and discovers local server scripts.
package connections

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/mcp/client"
	"github.com/toolbridge-ai/toolbridge/tool"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge", "connections")

var (
	// ErrTransportUnavailable reports a transport that could not be
	// established or has gone away.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrToolNotFound reports a call to a tool the server does not expose.
	ErrToolNotFound = errors.New("tool not found")
	// ErrUnknownServer reports a server name absent from the registry.
	ErrUnknownServer = errors.New("unknown server")
	// ErrUnsupportedTransport reports a server type no connection
	// implementation handles.
	ErrUnsupportedTransport = errors.New("unsupported transport")
)

// Server types accepted in configuration.
const (
	TypeStdio   = "stdio"
	TypeSSE     = "sse"
	TypeCommand = "command"
)

// ServerConfig describes one MCP server instance.
type ServerConfig struct {
	Name        string            `json:"name" yaml:"name"`
	Type        string            `json:"type" yaml:"type"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`

	// Script is the local server script for stdio servers, absolute or
	// relative to the servers directory.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// URL and APIKey configure sse servers.
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Command, Args and Cwd configure command servers.
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty" yaml:"cwd,omitempty"`

	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// State is the lifecycle phase of a connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Connection is one live link to an MCP server. Implementations own every
// resource they acquire and release them in reverse order on Release.
type Connection interface {
	// Connect establishes the transport and performs the handshake.
	Connect(ctx context.Context) error
	// ListTools returns the server's tool roster, cached after first fetch.
	ListTools(ctx context.Context) ([]tool.Descriptor, error)
	// CallTool invokes a tool by name with decoded arguments.
	CallTool(ctx context.Context, name string, args map[string]any) (*client.CallToolResult, error)
	// Release tears the connection down. Idempotent.
	Release() error
	// State reports the current lifecycle phase.
	State() State
	// Name returns the configured server name.
	Name() string
}

// connState guards the lifecycle phase shared by all variants.
type connState struct {
	mu sync.Mutex
	st State
}

func (c *connState) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

func (c *connState) setState(st State) {
	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
}

// descriptors converts a server tool roster into capped, normalized
// descriptors.
func descriptors(tools []client.ToolInfo) []tool.Descriptor {
	out := make([]tool.Descriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, tool.NewDescriptor(t.Name, t.Description, t.InputSchema))
	}
	return out
}

// findDescriptor returns the named descriptor from the roster, or an
// ErrToolNotFound naming the caller's request.
func findDescriptor(roster []tool.Descriptor, name string) (*tool.Descriptor, error) {
	for i := range roster {
		if roster[i].Name == name {
			return &roster[i], nil
		}
	}
	return nil, errors.WithMessagef(ErrToolNotFound, "%s", name)
}
