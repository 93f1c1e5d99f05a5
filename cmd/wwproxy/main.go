// Command wwproxy bridges JSON-framed WebSocket client requests to calls
// against a WAMP router, per the protocol-bridge design in this module's
// SPEC_FULL.md.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koodaamo/wwproxy/internal/config"
	"github.com/koodaamo/wwproxy/internal/dispatch"
	"github.com/koodaamo/wwproxy/internal/listener"
	"github.com/koodaamo/wwproxy/internal/registry"
	"github.com/koodaamo/wwproxy/internal/wampsession"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.NewLogger(cfg)
	stdLogger := config.NewStdLogAdapter(logger)

	logger.Info().
		Str("server", cfg.ServerURI).
		Str("router", cfg.RouterURI).
		Bool("debug", cfg.Debug).
		Dur("call_timeout", cfg.CallTimeout).
		Int("max_connections", cfg.MaxConnections).
		Msg("starting wwproxy")

	dial := func(ctx context.Context, realm string) (registry.Session, error) {
		return wampsession.Dial(ctx, realm, cfg.RouterURI, cfg.TLSConfig, stdLogger, logger)
	}
	reg := registry.New(dial, logger)
	disp := dispatch.New(reg, cfg.CallTimeout, cfg.LegacyDelimited, logger)
	ln := listener.New(cfg.ServerHost, cfg.ServerPort, cfg.ServerPath, cfg.MaxConnections, disp, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- ln.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("downstream listener exited unexpectedly")
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := ln.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("listener shutdown did not complete cleanly")
	}
	reg.Close()

	if err := <-errCh; err != nil {
		logger.Error().Err(err).Msg("downstream listener exited after shutdown")
		os.Exit(1)
	}
}
