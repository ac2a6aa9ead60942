package connections

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/mcp/client"
	ssetransport "github.com/toolbridge-ai/toolbridge/mcp/transport/sse"
	"github.com/toolbridge-ai/toolbridge/tool"
)

// SSEConnection talks to a remote MCP server over the HTTP+SSE binding.
// When the server cannot enumerate its tools the connection degrades to a
// built-in roster instead of failing.
type SSEConnection struct {
	connState

	cfg     *ServerConfig
	session *client.Session
	tools   []tool.Descriptor
}

// NewSSE creates an SSE connection for the configured URL.
func NewSSE(cfg *ServerConfig) *SSEConnection {
	return &SSEConnection{cfg: cfg}
}

// Name implements Connection.Name.
func (c *SSEConnection) Name() string {
	return c.cfg.Name
}

// Connect implements Connection.Connect. The tool roster is prefetched so
// discovery problems surface at connect time rather than mid-query.
func (c *SSEConnection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	logger.KV(xlog.DEBUG, "server", c.cfg.Name, "url", c.cfg.URL)

	tr := ssetransport.New(c.cfg.URL)
	if c.cfg.APIKey != "" {
		tr = tr.WithToken(c.cfg.APIKey)
	}

	sess := client.NewSession(clientImplementation())
	if err := sess.Connect(ctx, tr); err != nil {
		c.setState(StateDisconnected)
		return errors.WithMessagef(ErrTransportUnavailable, "%s", err.Error())
	}

	if _, err := sess.Initialize(ctx); err != nil {
		_ = sess.Close()
		c.setState(StateDisconnected)
		return err
	}

	c.session = sess
	c.setState(StateConnected)

	infos, err := sess.ListTools(ctx)
	if err != nil {
		logger.KV(xlog.WARNING, "server", c.cfg.Name, "reason", "tool_discovery_failed", "err", err.Error())
		c.tools = DefaultDescriptors()
	} else {
		c.tools = descriptors(infos)
	}
	return nil
}

// ListTools implements Connection.ListTools.
func (c *SSEConnection) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	if c.State() != StateConnected {
		return nil, errors.WithMessage(ErrTransportUnavailable, "not connected")
	}
	if c.tools != nil {
		return c.tools, nil
	}

	infos, err := c.session.ListTools(ctx)
	if err != nil {
		logger.KV(xlog.WARNING, "server", c.cfg.Name, "reason", "tool_discovery_failed", "err", err.Error())
		c.tools = DefaultDescriptors()
		return c.tools, nil
	}
	c.tools = descriptors(infos)
	return c.tools, nil
}

// CallTool implements Connection.CallTool.
func (c *SSEConnection) CallTool(ctx context.Context, name string, args map[string]any) (*client.CallToolResult, error) {
	roster, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := findDescriptor(roster, name); err != nil {
		return nil, err
	}
	return c.session.CallTool(ctx, name, args)
}

// Release implements Connection.Release.
func (c *SSEConnection) Release() error {
	if c.State() == StateDisconnected {
		return nil
	}
	c.setState(StateClosing)

	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.tools = nil
	c.setState(StateDisconnected)
	return err
}

// DefaultDescriptors is the built-in roster used when a remote server
// cannot enumerate its tools.
func DefaultDescriptors() []tool.Descriptor {
	return []tool.Descriptor{
		tool.NewDescriptor("geocode",
			"Geocoding service that converts an address into coordinates",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"address": map[string]any{
						"type":        "string",
						"description": "The address to convert",
					},
					"city": map[string]any{
						"type":        "string",
						"description": "The city to search in",
					},
				},
				"required": []string{"address"},
			}),
		tool.NewDescriptor("weather",
			"Weather lookup service for a given city",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{
						"type":        "string",
						"description": "City name or city code",
					},
				},
				"required": []string{"city"},
			}),
	}
}

var _ Connection = (*SSEConnection)(nil)
