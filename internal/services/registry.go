package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// AppRegistry hands out the OAuth application registered on each host, registering one the first time a host is seen.
type AppRegistry struct {
	configs models.HostConfigRepository
	factory *ClientFactory
	name    string
	website string
	group   singleflight.Group
	logger  *log.Logger
}

// NewAppRegistry creates an [AppRegistry] that registers apps under name and website.
func NewAppRegistry(configs models.HostConfigRepository, factory *ClientFactory, name, website string) *AppRegistry {
	if name == "" {
		name = "Mastodon List Manager"
	}
	return &AppRegistry{
		configs: configs,
		factory: factory,
		name:    name,
		website: website,
		logger:  factory.logger,
	}
}

// GetOrCreateApp returns the registration for host, creating it when missing.
//
// Concurrent callers for the same host in this process share one registration. Across processes, the first
// registration persisted wins and later ones adopt it. A host that cannot be reached yields a [*BadHostError]
// carrying rawDomain, the host as the user typed it.
func (r *AppRegistry) GetOrCreateApp(ctx context.Context, host, rawDomain, redirectURI string) (*models.HostConfig, error) {
	cfg, err := r.configs.Get(ctx, host)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}

	v, err, _ := r.group.Do(host, func() (any, error) {
		return r.register(ctx, host, redirectURI)
	})
	if err != nil {
		if errors.Is(err, shared.ErrBadHost) {
			return nil, &BadHostError{Domain: rawDomain, Err: err}
		}
		return nil, err
	}

	return v.(*models.HostConfig), nil
}

func (r *AppRegistry) register(ctx context.Context, host, redirectURI string) (*models.HostConfig, error) {
	// another caller may have finished while this one waited for the group
	if cfg, err := r.configs.Get(ctx, host); err != nil || cfg != nil {
		return cfg, err
	}

	app, err := r.factory.unprobed(host, "", "", "").RegisterApp(ctx, r.name, r.website, redirectURI)
	if err != nil {
		r.logger.Error("app registration failed", "host", host, "error", err)
		return nil, err
	}

	cfg := &models.HostConfig{
		Host:         host,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		CreatedAt:    time.Now().UTC(),
	}

	created, err := r.configs.Create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to store host config: %w", err)
	}
	if created {
		r.logger.Info("registered app", "host", host)
		return cfg, nil
	}

	winner, err := r.configs.Get(ctx, host)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, fmt.Errorf("host config for %s vanished after a conflicting insert", host)
	}
	r.logger.Warn("app registered concurrently elsewhere; adopting stored registration", "host", host)
	return winner, nil
}
