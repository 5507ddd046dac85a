package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/charmbracelet/log"
)

// DefaultTimeout bounds every call to a remote host when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Factory builds probed clients for remote hosts.
type Factory interface {
	// FromSession resolves a session token to its host and bearer token. Unknown sessions and sessions whose host has no
	// registration wrap [shared.ErrNoAuthInfo].
	FromSession(ctx context.Context, token string) (*MastodonService, error)

	// FromHostConfig builds a client from a registration and an optional bearer token.
	FromHostConfig(ctx context.Context, cfg *models.HostConfig, accessToken string) (*MastodonService, error)

	// ExchangeCode trades an authorization code for a bearer token using the registration in cfg.
	ExchangeCode(ctx context.Context, cfg *models.HostConfig, code, redirectURI string) (string, error)
}

// FactoryOptions configures how remote hosts are reached.
type FactoryOptions struct {
	// HTTPClient is copied; its transport gains the User-Agent stamp. Defaults to a client with [DefaultTimeout].
	HTTPClient *http.Client
	// BaseURL maps a host to the URL requests are sent to. Defaults to "https://" + host.
	BaseURL   func(host string) string
	UserAgent string
	Timeout   time.Duration
	Logger    *log.Logger
}

// ClientFactory implements [Factory] over the session and host config collections.
type ClientFactory struct {
	sessions    models.SessionRepository
	hostConfigs models.HostConfigRepository
	httpClient  *http.Client
	baseURL     func(host string) string
	logger      *log.Logger
}

// NewClientFactory creates a [ClientFactory].
func NewClientFactory(sessions models.SessionRepository, hostConfigs models.HostConfigRepository, opts FactoryOptions) *ClientFactory {
	client := &http.Client{}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		client = &c
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = shared.UserAgent
	}
	client.Transport = &userAgentTransport{base: base, agent: agent}

	switch {
	case opts.Timeout > 0:
		client.Timeout = opts.Timeout
	case client.Timeout == 0:
		client.Timeout = DefaultTimeout
	}

	baseURL := opts.BaseURL
	if baseURL == nil {
		baseURL = func(host string) string { return "https://" + host }
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &ClientFactory{
		sessions:    sessions,
		hostConfigs: hostConfigs,
		httpClient:  client,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// FromSession implements [Factory].
func (f *ClientFactory) FromSession(ctx context.Context, token string) (*MastodonService, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: no session token", shared.ErrNoAuthInfo)
	}

	session, err := f.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: unknown session", shared.ErrNoAuthInfo)
	}

	cfg, err := f.hostConfigs.Get(ctx, session.Host)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: no host config for %s", shared.ErrNoAuthInfo, session.Host)
	}

	return f.FromHostConfig(ctx, cfg, session.AccessToken)
}

// FromHostConfig implements [Factory]. The returned client has already passed [MastodonService.Probe].
func (f *ClientFactory) FromHostConfig(ctx context.Context, cfg *models.HostConfig, accessToken string) (*MastodonService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no host config", shared.ErrNoAuthInfo)
	}

	svc := f.unprobed(cfg.Host, cfg.ClientID, cfg.ClientSecret, accessToken)

	instance, err := svc.Probe(ctx)
	if err != nil {
		f.logger.Warn("instance probe failed", "host", cfg.Host, "error", err)
		return nil, err
	}
	svc.instance = instance

	f.logger.Debug("instance probe passed", "host", cfg.Host, "version", instance.Version)
	return svc, nil
}

// ExchangeCode implements [Factory]. The exchange needs no probe: the host already issued the code.
func (f *ClientFactory) ExchangeCode(ctx context.Context, cfg *models.HostConfig, code, redirectURI string) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("%w: no host config", shared.ErrNoAuthInfo)
	}
	return f.unprobed(cfg.Host, cfg.ClientID, cfg.ClientSecret, "").ExchangeCode(ctx, code, redirectURI)
}

// unprobed builds a client without probing; used only to register apps on a host that has no configuration yet.
func (f *ClientFactory) unprobed(host, clientID, clientSecret, accessToken string) *MastodonService {
	return newMastodonService(host, f.baseURL(host), f.httpClient, clientID, clientSecret, accessToken)
}
