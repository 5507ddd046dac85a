package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/services"
	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/charmbracelet/log"
)

// DefaultRedirectBase is where the web client lives in production.
const DefaultRedirectBase = "https://acbeers.github.io/mastodonlm"

// AuthFlowOptions configures redirect targets.
type AuthFlowOptions struct {
	RedirectBase string // RedirectBase receives callbacks for every origin except DevOrigin
	DevOrigin    string // DevOrigin is a local web client that receives its own callbacks
}

// AuthFlow drives the OAuth login against a remote host: start, callback and logout.
type AuthFlow struct {
	sessions models.SessionRepository
	configs  models.HostConfigRepository
	trust    *HostTrust
	registry *services.AppRegistry
	factory  services.Factory
	opts     AuthFlowOptions
	logger   *log.Logger
}

// NewAuthFlow creates an [AuthFlow].
func NewAuthFlow(
	store models.Store,
	trust *HostTrust,
	registry *services.AppRegistry,
	factory services.Factory,
	opts AuthFlowOptions,
	logger *log.Logger,
) *AuthFlow {
	if opts.RedirectBase == "" {
		opts.RedirectBase = DefaultRedirectBase
	}
	opts.RedirectBase = strings.TrimRight(opts.RedirectBase, "/")
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &AuthFlow{
		sessions: store.Sessions(),
		configs:  store.HostConfigs(),
		trust:    trust,
		registry: registry,
		factory:  factory,
		opts:     opts,
		logger:   logger,
	}
}

// RedirectURL returns the callback target for domain. A request from the development origin is sent back to that
// origin; everything else goes to the configured base.
func (a *AuthFlow) RedirectURL(origin, domain string) string {
	base := a.opts.RedirectBase
	if a.opts.DevOrigin != "" && origin == a.opts.DevOrigin {
		base = strings.TrimRight(origin, "/")
	}
	return base + "/callback?domain=" + url.QueryEscape(domain)
}

// StartRequest is the input of [AuthFlow.Start].
type StartRequest struct {
	SessionToken string // SessionToken may be empty
	Domain       string // Domain is the host exactly as the user typed it
	Origin       string
}

// StartResult is a successful [AuthFlow.Start]: either the session is already live or URL must be visited.
type StartResult struct {
	AlreadyAuthenticated bool
	Domain               string
	URL                  string
}

// Start begins a login, or reports that the presented session still works.
//
// Errors:
//   - [shared.ErrNoDomain] : no domain given and no session to take one from
//   - [shared.ErrNotAllowed] : the trust list denies the domain
//   - [*services.BadHostError] : the domain could not be reached
//   - [shared.ErrNotMastodon] : the domain answered but is not a Mastodon instance
func (a *AuthFlow) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	domain := shared.CleanDomain(req.Domain)
	token := req.SessionToken

	if token != "" {
		session, err := a.sessions.Get(ctx, token)
		if err != nil {
			return nil, err
		}
		if session != nil {
			switch {
			case domain == "":
				domain = session.Host
			case session.Host != domain:
				a.logger.Info("auth: ignoring session bound to another host", "session_host", session.Host, "domain", domain)
				token = ""
			}
		}
	}

	if token != "" && a.sessionIsLive(ctx, token) {
		a.logger.Info("auth: already logged in", "domain", domain)
		return &StartResult{AlreadyAuthenticated: true, Domain: domain}, nil
	}

	if domain == "" {
		return nil, shared.ErrNoDomain
	}

	allowed, err := a.trust.IsAllowed(ctx, domain)
	if err != nil {
		return nil, err
	}
	if !allowed {
		a.logger.Info("auth: domain denied", "domain", domain)
		return nil, fmt.Errorf("%w: %s", shared.ErrNotAllowed, domain)
	}

	a.logger.Info("auth: starting OAuth path", "domain", domain)
	redirect := a.RedirectURL(req.Origin, domain)

	cfg, err := a.registry.GetOrCreateApp(ctx, domain, req.Domain, redirect)
	if err != nil {
		a.logger.Error("auth: app registration failed", "domain", req.Domain, "redirect", redirect, "error", err)
		return nil, err
	}

	client, err := a.factory.FromHostConfig(ctx, cfg, "")
	if err != nil {
		return nil, a.badHost(req.Domain, err)
	}

	return &StartResult{Domain: domain, URL: client.AuthorizationURL(redirect)}, nil
}

// sessionIsLive builds a client from the session and calls verify_credentials. Any failure means "not logged in".
func (a *AuthFlow) sessionIsLive(ctx context.Context, token string) bool {
	client, err := a.factory.FromSession(ctx, token)
	if err != nil {
		a.logger.Debug("auth: session unusable", "error", err)
		return false
	}
	if _, err := client.VerifyCredentials(ctx); err != nil {
		a.logger.Debug("auth: session rejected", "host", client.Host(), "error", err)
		return false
	}
	return true
}

// CallbackRequest is the input of [AuthFlow.Callback] and [AuthFlow.ClientCallback].
type CallbackRequest struct {
	Domain string
	Code   string
	Origin string
}

// Callback completes a login: it exchanges code for a bearer token and stores a new session.
//
// Errors:
//   - [shared.ErrNoAuthInfo] : domain or code missing, or no registration for domain
//   - [shared.ErrIllegalArgument] : the host rejected the code
//   - [*services.BadHostError] : the domain could not be reached
func (a *AuthFlow) Callback(ctx context.Context, req CallbackRequest) (*models.Session, error) {
	domain, token, err := a.exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	session, err := a.sessions.Create(ctx, domain, token)
	if err != nil {
		return nil, err
	}

	a.logger.Info("callback: session created", "domain", domain)
	return session, nil
}

// ClientCallback completes a login for clients that keep the bearer token themselves. No session is stored.
func (a *AuthFlow) ClientCallback(ctx context.Context, req CallbackRequest) (string, error) {
	_, token, err := a.exchange(ctx, req)
	return token, err
}

func (a *AuthFlow) exchange(ctx context.Context, req CallbackRequest) (string, string, error) {
	domain := shared.CleanDomain(req.Domain)
	if domain == "" || req.Code == "" {
		return "", "", fmt.Errorf("%w: callback needs domain and code", shared.ErrNoAuthInfo)
	}

	cfg, err := a.configs.Get(ctx, domain)
	if err != nil {
		return "", "", err
	}
	if cfg == nil {
		return "", "", fmt.Errorf("%w: no host config for %s", shared.ErrNoAuthInfo, domain)
	}

	redirect := a.RedirectURL(req.Origin, domain)
	token, err := a.factory.ExchangeCode(ctx, cfg, req.Code, redirect)
	if err != nil {
		if errors.Is(err, shared.ErrIllegalArgument) {
			a.logger.Error("callback: illegal argument", "domain", domain, "redirect", redirect)
		}
		return "", "", a.badHost(req.Domain, err)
	}

	return domain, token, nil
}

// Logout revokes the session's bearer token on its host and drops the session.
//
// The session is dropped only once a client could be built for it; when that fails the session is left in place and
// the error returned. A failed revoke is logged and does not keep the session.
func (a *AuthFlow) Logout(ctx context.Context, token string) error {
	client, err := a.factory.FromSession(ctx, token)
	if err != nil {
		return err
	}

	if err := client.RevokeToken(ctx); err != nil {
		a.logger.Warn("logout: revoke failed", "host", client.Host(), "error", err)
	}

	return a.sessions.Delete(ctx, token)
}

// ClientLogout revokes a bearer token held by the client itself. A failed revoke is returned.
func (a *AuthFlow) ClientLogout(ctx context.Context, accessToken, domain string) error {
	host := shared.CleanDomain(domain)

	cfg, err := a.configs.Get(ctx, host)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("%w: no host config found for %s", shared.ErrNoAuthInfo, domain)
	}

	client, err := a.factory.FromHostConfig(ctx, cfg, accessToken)
	if err != nil {
		return a.badHost(domain, err)
	}

	if err := client.RevokeToken(ctx); err != nil {
		a.logger.Warn("client logout: revoke failed", "host", host, "error", err)
		return fmt.Errorf("client logout: %w", a.badHost(domain, err))
	}
	return nil
}

// badHost attaches the user's raw input to unreachable-host errors.
func (a *AuthFlow) badHost(raw string, err error) error {
	var bad *services.BadHostError
	if errors.Is(err, shared.ErrBadHost) && !errors.As(err, &bad) {
		return &services.BadHostError{Domain: raw, Err: err}
	}
	return err
}
