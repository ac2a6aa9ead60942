// Package stdio implements the client side of the MCP stdio binding: a
// child process is launched and newline-delimited JSON-RPC frames are
// exchanged over its standard streams.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/mcp/transport"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge/mcp/transport", "stdio")

// ErrProcessNotFound is returned when the server executable cannot be
// located on the search path.
var ErrProcessNotFound = errors.New("executable not found on search path")

// Maximum accepted frame size. Tool results can be large.
const maxFrameSize = 4 * 1024 * 1024

// Params describe the child process to launch.
type Params struct {
	// Command is the executable to run.
	Command string
	// Args are passed to the command verbatim.
	Args []string
	// Dir is the working directory; empty means inherit.
	Dir string
	// Env is an overlay merged over the current process environment.
	Env map[string]string
}

// Transport launches a child process and frames JSON-RPC messages over its
// stdin/stdout, one message per line.
type Transport struct {
	params Params

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	mu             sync.RWMutex

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a stdio transport for the given process parameters.
// The process is not started until Start is called.
func New(params Params) *Transport {
	return &Transport{
		params: params,
		done:   make(chan struct{}),
	}
}

// Start launches the child process and begins reading its stdout.
func (t *Transport) Start(ctx context.Context) error {
	if t.params.Command == "" {
		return errors.New("stdio: command is required")
	}

	cmd := exec.Command(t.params.Command, t.params.Args...)
	cmd.Dir = t.params.Dir
	cmd.Stderr = os.Stderr
	if len(t.params.Env) > 0 {
		env := os.Environ()
		for k, v := range t.params.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "stdio: failed to open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "stdio: failed to open stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return errors.WithMessagef(ErrProcessNotFound, "stdio: %s", t.params.Command)
		}
		return errors.Wrapf(err, "stdio: failed to start %s", t.params.Command)
	}

	logger.KV(xlog.DEBUG,
		"status", "started",
		"command", t.params.Command,
		"pid", cmd.Process.Pid,
	)

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout

	go t.readLoop(ctx)
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		message, err := transport.ParseMessage(line)
		if err != nil {
			t.handleError(errors.Wrap(err, "stdio: failed to parse frame"))
			continue
		}

		t.mu.RLock()
		handler := t.messageHandler
		t.mu.RUnlock()

		if handler != nil {
			handler(ctx, message)
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-t.done:
			// shutting down, the pipe error is expected
		default:
			t.handleError(errors.Wrap(err, "stdio: read failed"))
		}
	}

	t.mu.RLock()
	closeHandler := t.closeHandler
	t.mu.RUnlock()
	if closeHandler != nil {
		closeHandler()
	}
}

// Send writes one message as a single newline-terminated frame.
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	if t.stdin == nil {
		return errors.New("stdio: not started")
	}
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "stdio: failed to marshal message")
	}
	data = append(data, '\n')
	if _, err := t.stdin.Write(data); err != nil {
		return errors.Wrap(err, "stdio: write failed")
	}
	return nil
}

// Close terminates the child process and releases the pipes. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
			_ = t.cmd.Wait()
		}
	})
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

func (t *Transport) handleError(err error) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

var _ transport.Transport = (*Transport)(nil)
