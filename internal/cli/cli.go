// Package cli implements the interactive query shell. Lines starting with
// "!" are directives handled locally; everything else is sent to the
// orchestration engine as a query.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/config"
	"github.com/toolbridge-ai/toolbridge/connections"
	"github.com/toolbridge-ai/toolbridge/engine"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge", "cli")

const helpText = `
Available commands:
  !quit, !exit       - exit the program
  !help              - show this help
  !servers           - list available servers
  !connect <server>  - connect to the named server
  !model <model>     - switch the active model
  !models            - list available models
  !debug <on/off>    - toggle debug output
`

// Shell reads queries and directives from a stream and writes results back.
type Shell struct {
	engine   *engine.Engine
	registry *connections.Registry
	cfg      *config.Configuration
	in       io.Reader
	out      io.Writer
}

// New creates a shell bound to stdin and stdout.
func New(eng *engine.Engine, registry *connections.Registry, cfg *config.Configuration) *Shell {
	return &Shell{
		engine:   eng,
		registry: registry,
		cfg:      cfg,
		in:       os.Stdin,
		out:      os.Stdout,
	}
}

// WithStreams overrides the input and output streams.
func (s *Shell) WithStreams(in io.Reader, out io.Writer) *Shell {
	s.in = in
	s.out = out
	return s
}

// Run executes the interactive loop until EOF, a quit directive, or
// context cancellation.
func (s *Shell) Run(ctx context.Context) error {
	fmt.Fprintf(s.out, "Client started.\n")
	fmt.Fprintf(s.out, "Model: %s\n", s.cfg.Models.Selected)
	if s.cfg.API.BaseURL != "" {
		fmt.Fprintf(s.out, "API endpoint: %s\n", s.cfg.API.BaseURL)
	}
	fmt.Fprintf(s.out, "Current server: %s\n", s.engine.CurrentServer())
	fmt.Fprintln(s.out, "Type a query, '!help' for commands, or '!quit' to exit.")

	scanner := bufio.NewScanner(s.in)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fmt.Fprint(s.out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "!") {
			if quit := s.dispatch(ctx, strings.TrimPrefix(line, "!")); quit {
				return nil
			}
			continue
		}

		logger.KV(xlog.INFO, "query", line)
		fmt.Fprintln(s.out, "Processing, this may take a moment...")

		answer, err := s.engine.ProcessQuery(ctx, line, "")
		if err != nil {
			logger.KV(xlog.ERROR, "reason", "query_failed", "err", err.Error())
			fmt.Fprintf(s.out, "\nError: %s\n", err.Error())
			continue
		}
		fmt.Fprintln(s.out, "\n"+answer)
	}
}

// dispatch handles one directive. It returns true when the shell should
// exit.
func (s *Shell) dispatch(ctx context.Context, command string) bool {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "quit", "exit":
		fmt.Fprintln(s.out, "Goodbye!")
		return true
	case "help":
		fmt.Fprint(s.out, helpText)
	case "servers":
		s.cmdServers()
	case "connect":
		s.cmdConnect(ctx, args)
	case "model":
		s.cmdModel(args)
	case "models":
		s.cmdModels()
	case "debug":
		s.cmdDebug(args)
	default:
		fmt.Fprintf(s.out, "Unknown command: %s\n", cmd)
		fmt.Fprintln(s.out, "Type '!help' to list available commands.")
	}
	return false
}

func (s *Shell) cmdServers() {
	fmt.Fprintf(s.out, "Available servers: %s\n", strings.Join(s.registry.Names(), ", "))
	fmt.Fprintf(s.out, "Current server: %s\n", s.engine.CurrentServer())
}

func (s *Shell) cmdConnect(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Specify the server name to connect to.")
		return
	}

	name := args[0]
	tools, err := s.engine.ConnectServer(ctx, name)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %s\n", err.Error())
		return
	}

	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	fmt.Fprintf(s.out, "Connected to server: %s\n", name)
	fmt.Fprintf(s.out, "Tools: %s\n", strings.Join(names, ", "))
}

func (s *Shell) cmdModel(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(s.out, "Current model: %s\n", s.cfg.Models.Selected)
		return
	}

	model := args[0]
	if !slices.Contains(s.cfg.Models.Available, model) {
		fmt.Fprintf(s.out, "Unknown model: %s\n", model)
		fmt.Fprintf(s.out, "Available models: %s\n", strings.Join(s.cfg.Models.Available, ", "))
		return
	}
	s.cfg.Models.Selected = model
	fmt.Fprintf(s.out, "Switched to model: %s\n", model)
}

func (s *Shell) cmdModels() {
	fmt.Fprintf(s.out, "Available models: %s\n", strings.Join(s.cfg.Models.Available, ", "))
	fmt.Fprintf(s.out, "Current model: %s\n", s.cfg.Models.Selected)
}

func (s *Shell) cmdDebug(args []string) {
	if len(args) == 0 {
		state := "off"
		if s.cfg.System.Debug {
			state = "on"
		}
		fmt.Fprintf(s.out, "Debug mode: %s\n", state)
		return
	}

	switch strings.ToLower(args[0]) {
	case "on", "true", "1":
		s.cfg.System.Debug = true
		fmt.Fprintln(s.out, "Debug mode enabled.")
	case "off", "false", "0":
		s.cfg.System.Debug = false
		fmt.Fprintln(s.out, "Debug mode disabled.")
	default:
		fmt.Fprintln(s.out, "Invalid argument, use 'on' or 'off'.")
	}
}
