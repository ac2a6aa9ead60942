package connections

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/mcp/client"
	"github.com/toolbridge-ai/toolbridge/tool"
)

const (
	// DefaultLocalEndpoint is where a spawned server is expected to
	// listen for event-stream clients.
	DefaultLocalEndpoint = "http://localhost:8000/sse"
	// DefaultReadyDeadline bounds how long Connect waits for the spawned
	// server to start accepting connections.
	DefaultReadyDeadline = 15 * time.Second

	readyPollInterval = 200 * time.Millisecond
)

// CommandConnection spawns a server process from a shell command, waits for
// it to accept connections on the local event-stream endpoint, then
// delegates the MCP session to an inner SSE connection. The child is killed
// on Release so it never outlives the connection.
type CommandConnection struct {
	connState

	cfg     *ServerConfig
	rootDir string

	// Endpoint and ReadyDeadline may be overridden before Connect.
	Endpoint      string
	ReadyDeadline time.Duration

	cmd   *exec.Cmd
	inner *SSEConnection
}

// NewCommand creates a command connection. Relative working directories
// resolve against rootDir.
func NewCommand(cfg *ServerConfig, rootDir string) *CommandConnection {
	return &CommandConnection{
		cfg:           cfg,
		rootDir:       rootDir,
		Endpoint:      DefaultLocalEndpoint,
		ReadyDeadline: DefaultReadyDeadline,
	}
}

// Name implements Connection.Name.
func (c *CommandConnection) Name() string {
	return c.cfg.Name
}

// Connect implements Connection.Connect.
func (c *CommandConnection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	parts := strings.Fields(c.cfg.Command)
	if len(parts) == 0 {
		c.setState(StateDisconnected)
		return errors.WithMessage(ErrTransportUnavailable, "no command configured")
	}

	cwd := c.cfg.Cwd
	if cwd == "" {
		cwd = "."
	}
	if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(c.rootDir, cwd)
	}
	if _, err := os.Stat(cwd); err != nil {
		c.setState(StateDisconnected)
		return errors.WithMessagef(ErrTransportUnavailable, "working directory not found: %s", cwd)
	}

	args := append(parts[1:], c.cfg.Args...)

	logger.KV(xlog.DEBUG, "server", c.cfg.Name, "command", c.cfg.Command, "cwd", cwd)

	cmd := exec.Command(parts[0], args...)
	cmd.Dir = cwd
	cmd.Env = commandEnv(c.cfg.Env)
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		c.setState(StateDisconnected)
		if errors.Is(err, exec.ErrNotFound) {
			return errors.WithMessagef(ErrTransportUnavailable, "command not found on search path: %s", parts[0])
		}
		return errors.WithMessagef(ErrTransportUnavailable, "failed to start %s: %s", parts[0], err.Error())
	}
	// The child is registered before any delegation so a failure below
	// still tears it down.
	c.cmd = cmd

	if err := c.waitReady(ctx); err != nil {
		c.killProcess()
		c.setState(StateDisconnected)
		return err
	}

	inner := NewSSE(&ServerConfig{
		Name: c.cfg.Name,
		Type: TypeSSE,
		URL:  c.Endpoint,
	})
	if err := inner.Connect(ctx); err != nil {
		c.killProcess()
		c.setState(StateDisconnected)
		return err
	}

	c.inner = inner
	c.setState(StateConnected)
	return nil
}

// waitReady polls the local endpoint until the spawned server answers or
// the deadline passes.
func (c *CommandConnection) waitReady(ctx context.Context) error {
	httpClient := &http.Client{Timeout: readyPollInterval}
	deadline := time.Now().Add(c.ReadyDeadline)

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.Endpoint, nil)
		if err != nil {
			return errors.WithMessagef(ErrTransportUnavailable, "invalid endpoint %s", c.Endpoint)
		}
		resp, err := httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return errors.WithMessagef(ErrTransportUnavailable,
				"server did not become ready within %v", c.ReadyDeadline)
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for spawned server")
		case <-ticker.C:
		}
	}
}

// ListTools implements Connection.ListTools.
func (c *CommandConnection) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	if c.State() != StateConnected {
		return nil, errors.WithMessage(ErrTransportUnavailable, "not connected")
	}
	return c.inner.ListTools(ctx)
}

// CallTool implements Connection.CallTool.
func (c *CommandConnection) CallTool(ctx context.Context, name string, args map[string]any) (*client.CallToolResult, error) {
	if c.State() != StateConnected {
		return nil, errors.WithMessage(ErrTransportUnavailable, "not connected")
	}
	return c.inner.CallTool(ctx, name, args)
}

// Release implements Connection.Release. The session goes first, then the
// child process.
func (c *CommandConnection) Release() error {
	if c.State() == StateDisconnected {
		return nil
	}
	c.setState(StateClosing)

	var err error
	if c.inner != nil {
		err = c.inner.Release()
		c.inner = nil
	}
	c.killProcess()
	c.setState(StateDisconnected)
	return err
}

func (c *CommandConnection) killProcess() {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	_ = c.cmd.Process.Kill()
	_ = c.cmd.Wait()
	c.cmd = nil
}

func commandEnv(overlay map[string]string) []string {
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}

var _ Connection = (*CommandConnection)(nil)
