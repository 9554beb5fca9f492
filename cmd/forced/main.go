// Command forced runs the Force Engine's MCP server: it loads the schema and
// component corpus rooted at FORCE_ROOT (or -root), runs the startup
// admission gate, then serves force_* methods over stdio or HTTP depending
// on the configured transport.
//
// Environment variables (see internal/config):
//
//	FORCE_ROOT, FORCE_MODE, FORCE_TRANSPORT, FORCE_HTTP_HOST, FORCE_HTTP_PORT,
//	FORCE_DEBUG, FORCE_AUTO_FIX_ON_START, FORCE_MAX_WORKERS,
//	FORCE_LOG_ROTATION_BYTES, FORCE_REGISTRY_WATCH, FORCE_REGISTRY_REDIS_URL
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/force-engine/force/internal/builtin"
	"github.com/force-engine/force/internal/config"
	constraintbuiltin "github.com/force-engine/force/internal/constraint/builtin"
	governancebuiltin "github.com/force-engine/force/internal/governance/builtin"
	"github.com/force-engine/force/internal/logging"
	"github.com/force-engine/force/internal/mcpserver"
)

func main() {
	root := flag.String("root", "", "component root directory (overrides FORCE_ROOT)")
	transport := flag.String("transport", "", "transport: stdio or http (overrides FORCE_TRANSPORT)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := run(*root, *transport, *debug); err != nil {
		if se, ok := err.(*mcpserver.StartupError); ok {
			fmt.Fprintf(os.Stderr, "forced: %v\n", se)
			os.Exit(int(se.Code))
		}
		fmt.Fprintf(os.Stderr, "forced: %v\n", err)
		os.Exit(int(mcpserver.ExitFatal))
	}
}

func run(root, transport string, debug bool) error {
	logger := logging.NewJSONLogger(os.Stderr, debug)

	var opts []config.Option
	opts = append(opts, config.WithLogger(logger))
	if root != "" {
		opts = append(opts, config.WithRoot(root))
	}
	if transport != "" {
		opts = append(opts, config.WithTransport(config.Transport(transport)))
	}

	cfg, err := config.New(os.Getenv("FORCE_CONFIG"), opts...)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := mcpserver.New(ctx, cfg)
	if err != nil {
		return err
	}

	builtin.Register(engine.Actions(), cfg.Root, logger)
	constraintbuiltin.Register(engine.Constraints(), logger)
	governancebuiltin.Register(engine.Governance(), logger)

	logger.Info("forced starting", map[string]interface{}{
		"root": cfg.Root, "mode": string(cfg.Mode), "transport": string(cfg.Transport), "state": string(engine.State()),
	})

	var serveErr error
	switch cfg.Transport {
	case config.TransportStdio:
		serveErr = engine.ServeStdio(ctx, os.Stdin, os.Stdout)
	case config.TransportHTTP:
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		serveErr = engine.ServeHTTP(ctx, addr)
	default:
		return fmt.Errorf("forced: unsupported transport %q", cfg.Transport)
	}
	if serveErr != nil && ctx.Err() == nil {
		return &mcpserver.StartupError{Code: mcpserver.ExitTransportFailure, Msg: serveErr.Error()}
	}
	return nil
}
