package connections

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/mcp/client"
	"github.com/toolbridge-ai/toolbridge/mcp/transport/stdio"
	"github.com/toolbridge-ai/toolbridge/tool"
)

// StdioConnection runs a local server script as a child process and speaks
// JSON-RPC over its stdin/stdout.
type StdioConnection struct {
	connState

	cfg     *ServerConfig
	baseDir string

	session *client.Session
	tools   []tool.Descriptor
}

// NewStdio creates a stdio connection. Relative script paths resolve
// against baseDir.
func NewStdio(cfg *ServerConfig, baseDir string) *StdioConnection {
	return &StdioConnection{
		cfg:     cfg,
		baseDir: baseDir,
	}
}

// Name implements Connection.Name.
func (c *StdioConnection) Name() string {
	return c.cfg.Name
}

// Connect implements Connection.Connect.
func (c *StdioConnection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	scriptPath := c.cfg.Script
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(c.baseDir, scriptPath)
	}
	if _, err := os.Stat(scriptPath); err != nil {
		c.setState(StateDisconnected)
		return errors.WithMessagef(ErrTransportUnavailable, "server script not found: %s", scriptPath)
	}

	var interpreter string
	switch {
	case strings.HasSuffix(scriptPath, ".py"):
		interpreter = "python"
	case strings.HasSuffix(scriptPath, ".js"):
		interpreter = "node"
	default:
		c.setState(StateDisconnected)
		return errors.WithMessagef(ErrUnsupportedTransport, "server script must be a .py or .js file: %s", scriptPath)
	}

	logger.KV(xlog.DEBUG, "server", c.cfg.Name, "script", scriptPath, "interpreter", interpreter)

	tr := stdio.New(stdio.Params{
		Command: interpreter,
		Args:    []string{scriptPath},
		Env:     c.cfg.Env,
	})

	sess := client.NewSession(clientImplementation())
	if err := sess.Connect(ctx, tr); err != nil {
		c.setState(StateDisconnected)
		if errors.Is(err, stdio.ErrProcessNotFound) {
			return errors.WithMessagef(ErrTransportUnavailable, "%s not found on search path", interpreter)
		}
		return errors.WithMessagef(ErrTransportUnavailable, "%s", err.Error())
	}

	if _, err := sess.Initialize(ctx); err != nil {
		_ = sess.Close()
		c.setState(StateDisconnected)
		return err
	}

	c.session = sess
	c.setState(StateConnected)
	return nil
}

// ListTools implements Connection.ListTools.
func (c *StdioConnection) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	if c.State() != StateConnected {
		return nil, errors.WithMessage(ErrTransportUnavailable, "not connected")
	}
	if c.tools != nil {
		return c.tools, nil
	}

	infos, err := c.session.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	c.tools = descriptors(infos)
	return c.tools, nil
}

// CallTool implements Connection.CallTool.
func (c *StdioConnection) CallTool(ctx context.Context, name string, args map[string]any) (*client.CallToolResult, error) {
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
func (c *StdioConnection) Release() error {
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

func clientImplementation() client.Implementation {
	return client.Implementation{
		Name:    "toolbridge",
		Version: "0.1.0",
	}
}

var _ Connection = (*StdioConnection)(nil)
