package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/acbeers/mastodonlm/internal/server"
	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/urfave/cli/v3"
)

// Serve runs the API until SIGINT or SIGTERM, then drains in-flight requests.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return r.serve(ctx, ln, cmd.Duration("shutdown-timeout"))
}

// serve runs the API on ln until ctx is done.
func (r *Runner) serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	store, done, err := r.openStore(ctx)
	if err != nil {
		ln.Close()
		return err
	}
	defer done()

	c := r.wire(store, r.config.Auth.DevOrigin)

	metrics, err := server.NewMetrics(nil)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	logger := shared.WithLogger(r.logger, "component", "server")
	api := server.NewAPI(c.flow, c.lists, metrics, logger)

	router := server.NewBasicRouter()
	router.Use(server.Recover(logger), server.Logging(logger), metrics.Middleware())
	api.Register(router)
	router.Handle(http.MethodGet, "/metrics", metrics.Handler())

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * r.config.Auth.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("serving", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	r.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
