package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/callbridge/internal/app"
	"github.com/ent0n29/callbridge/internal/config"
	"github.com/ent0n29/callbridge/internal/observability"
	"github.com/ent0n29/callbridge/internal/session"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	var tel *observability.Telemetry
	if cfg.TelemetryEnabled() {
		tel, err = observability.NewTelemetry(os.Stderr, "callbridge")
		if err != nil {
			return err
		}
		tel.Install()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
			}
		}()
	}
	logger, err := observability.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel, tel)
	if err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	built, err := app.Build(runCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", "event", "shutdown", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	built.Sessions.StartJanitor(runCtx, janitorInterval(cfg.SessionInactivityTimeout))

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "event", "startup", "addr", cfg.BindAddr,
			"telephony_provider", built.Caller.Provider(), "call_store", built.Calls.Mode())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-listenErr:
		return err
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "event", "shutdown", "signal", sig.String())
	}

	runCancel()
	// Hijacked websocket connections are not tracked by Shutdown; end the
	// live and dialing calls so their handlers return.
	if n := built.Sessions.Shutdown(session.ErrShutdown); n > 0 {
		logger.Info("ending live calls", "event", "shutdown", "sessions", n)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "event", "shutdown", "error", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete", "event", "shutdown")
	return nil
}

func janitorInterval(timeout time.Duration) time.Duration {
	interval := timeout / 4
	if interval > 5*time.Second {
		interval = 5 * time.Second
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
