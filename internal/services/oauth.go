package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/acbeers/mastodonlm/internal/models"
	"golang.org/x/oauth2"
)

// App is the result of registering an OAuth application on a remote host.
type App struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// RegisterApp registers a new OAuth application on the host. Every call creates a distinct app remotely.
func (s *MastodonService) RegisterApp(ctx context.Context, name, website, redirectURI string) (*App, error) {
	form := url.Values{
		"client_name":   {name},
		"redirect_uris": {redirectURI},
		"scopes":        {models.ScopeString()},
	}
	if website != "" {
		form.Set("website", website)
	}

	var app App
	if _, err := s.do(ctx, http.MethodPost, "/api/v1/apps", form, &app); err != nil {
		return nil, err
	}
	if app.ClientID == "" || app.ClientSecret == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "app registration returned no credentials"}
	}

	return &app, nil
}

// AuthorizationURL returns the page on the remote host where the user approves the fixed scope set.
func (s *MastodonService) AuthorizationURL(redirectURI string) string {
	cfg := *s.config
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL("")
}

// ExchangeCode trades an authorization code for a bearer token, asking for the same scopes used at registration.
func (s *MastodonService) ExchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	cfg := *s.config
	cfg.RedirectURL = redirectURI

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := cfg.Exchange(ctx, code, oauth2.SetAuthURLParam("scope", models.ScopeString()))
	if err != nil {
		return "", tokenError(s.host, err)
	}

	return token.AccessToken, nil
}

// RevokeToken invalidates the client's bearer token on the remote host.
func (s *MastodonService) RevokeToken(ctx context.Context) error {
	if s.accessToken == "" {
		return fmt.Errorf("no access token to revoke for %s", s.host)
	}

	form := url.Values{
		"client_id":     {s.config.ClientID},
		"client_secret": {s.config.ClientSecret},
		"token":         {s.accessToken},
	}
	_, err := s.do(ctx, http.MethodPost, "/oauth/revoke", form, nil)
	return err
}
