package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/acbeers/mastodonlm/internal/server"
	"github.com/acbeers/mastodonlm/internal/services"
	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/acbeers/mastodonlm/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Login runs the login flow against --domain with a local callback server, then prints the session token.
//
// The host is registered with a redirect to http://localhost:<port>/callback. A host already registered with another
// redirect target will refuse the code exchange.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	domain := cmd.String("domain")
	if shared.CleanDomain(domain) == "" {
		return fmt.Errorf("%w: domain", shared.ErrMissingArgument)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(int(cmd.Int("port")))))
	if err != nil {
		return fmt.Errorf("failed to listen for callback: %w", err)
	}

	return r.login(ctx, ln, domain, cmd.Bool("open"), cmd.Duration("timeout"))
}

func (r *Runner) login(ctx context.Context, ln net.Listener, domain string, open bool, timeout time.Duration) error {
	defer ln.Close()

	store, done, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer done()

	origin := "http://" + ln.Addr().String()
	c := r.wire(store, origin)

	res, err := c.flow.Start(ctx, tasks.StartRequest{Domain: domain, Origin: origin})
	if err != nil {
		var bad *services.BadHostError
		switch {
		case errors.Is(err, shared.ErrNotAllowed):
			return fmt.Errorf("%s is not allowed: %w", domain, err)
		case errors.As(err, &bad):
			return fmt.Errorf("could not reach %s: %w", bad.Domain, err)
		default:
			return err
		}
	}

	handler := server.NewLoginHandler(c.flow.Callback, origin)
	router := server.NewBasicRouter()
	router.Use(server.Logging(r.logger))
	router.Handler(handler)

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	r.writePlain("Open this URL to authorize %s:\n\n  %s\n\n", res.Domain, res.URL)
	if open {
		if err := shared.OpenBrowser(res.URL); err != nil {
			r.logger.Warn("failed to open browser", "error", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case result := <-handler.Result():
		if err := result.Error(); err != nil {
			return err
		}
		r.logger.Info("logged in", "host", result.Session.Host)
		return r.writePlain("✓ Logged in to %s\nSession token: %s\n", result.Session.Host, result.Session.Token)
	case <-waitCtx.Done():
		return fmt.Errorf("timed out waiting for the callback: %w", waitCtx.Err())
	}
}
