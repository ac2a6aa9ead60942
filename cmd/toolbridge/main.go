// Command toolbridge runs the interactive LLM tool client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/config"
	"github.com/toolbridge-ai/toolbridge/connections"
	"github.com/toolbridge-ai/toolbridge/engine"
	"github.com/toolbridge-ai/toolbridge/internal/cli"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge", "main")

func main() {
	cfgPath := flag.String("cfg", "config.yaml", "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if *debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		xlog.SetGlobalLogLevel(xlog.INFO)
	}

	if err := run(*cfgPath, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func run(cfgPath string, debug bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.System.Debug = true
	}

	registry := connections.NewRegistry(cfg.Servers.Directory, cfg.Servers.Default, cfg.Servers.Instances)

	for _, name := range cfg.System.PreloadServers {
		if _, err := registry.Resolve(name); err != nil {
			logger.KV(xlog.WARNING, "reason", "preload_server_unknown", "server", name)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, registry)
	defer func() {
		if err := eng.Close(); err != nil {
			logger.KV(xlog.WARNING, "reason", "close_failed", "err", err.Error())
		}
	}()

	if registry.Len() > 0 {
		if _, err := eng.ConnectServer(ctx, ""); err != nil {
			logger.KV(xlog.WARNING, "reason", "default_connect_failed", "err", err.Error())
		}
	}

	err = cli.New(eng, registry, cfg).Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stdout, "\nInterrupted, shutting down...")
		return nil
	}
	return err
}
