// Command raffelserver boots the unified multi-protocol dispatch runtime:
// it loads configuration, builds a Runtime, registers the handlers it
// knows about, starts serving, and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/registry"
	"github.com/forattini-dev/raffel-sub006/runtime"
)

func main() {
	configFlag := flag.String("config", "", "path to raffel.yaml (overrides the usual resolution order)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := runtime.LoadConfig(configFlag)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	rt := runtime.New(cfg, logger)
	registerHandlers(rt.Registry, logger)

	if err := rt.Start(); err != nil {
		logger.Error("failed to start runtime", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
}

// registerHandlers wires the handlers this binary ships with. A real
// deployment would split this across package-local init functions per
// domain; kept in one place here since this is the reference entrypoint.
func registerHandlers(reg *registry.Registry, logger *slog.Logger) {
	err := reg.RegisterProcedure("ping", func(ctx *envelope.Context, payload json.RawMessage) (interface{}, error) {
		return map[string]string{"status": "ok"}, nil
	})
	if err != nil {
		logger.Error("failed to register ping procedure", "error", err)
	}

	err = reg.RegisterEvent("server.started", func(ctx *envelope.Context, payload json.RawMessage) error {
		logger.Info("server.started event delivered")
		return nil
	})
	if err != nil {
		logger.Error("failed to register server.started event", "error", err)
	}
}
