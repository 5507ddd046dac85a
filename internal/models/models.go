// package models defines the data model for the Mastodon list manager
package models

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Scopes is the fixed OAuth scope set requested on app registration, authorization and token exchange.
var Scopes = []string{"read:lists", "read:follows", "read:accounts", "write:lists"}

// ScopeString returns [Scopes] joined the way Mastodon expects them in form values.
func ScopeString() string {
	return strings.Join(Scopes, " ")
}

// Session maps an opaque token to the host and bearer token it was issued for.
type Session struct {
	Token       string    `json:"token"`
	Host        string    `json:"host"`
	AccessToken string    `json:"access_token"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewSession builds a session for host expiring ttl after now.
func NewSession(token, host, accessToken string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		Token:       token,
		Host:        host,
		AccessToken: accessToken,
		CreatedAt:   now.UTC(),
		ExpiresAt:   now.Add(ttl).UTC(),
	}
}

// Expired reports whether the session's expiry lies before t. Nothing on the read path calls it yet.
func (s *Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && t.After(s.ExpiresAt)
}

// Validate checks required fields.
func (s *Session) Validate() error {
	if s.Token == "" {
		return fmt.Errorf("session token is required")
	}
	if s.Host == "" {
		return fmt.Errorf("session host is required")
	}
	if s.AccessToken == "" {
		return fmt.Errorf("session access token is required")
	}
	return nil
}

// HostConfig holds the OAuth client credentials registered on a remote host. It is never refreshed once stored.
type HostConfig struct {
	Host         string    `json:"host"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks required fields.
func (h *HostConfig) Validate() error {
	if h.Host == "" {
		return fmt.Errorf("host config host is required")
	}
	if h.ClientID == "" || h.ClientSecret == "" {
		return fmt.Errorf("host config for %s is missing client credentials", h.Host)
	}
	return nil
}

// AllowedHost is keyed by the lowercased exact host.
type AllowedHost struct {
	Host      string    `json:"host"`
	CreatedAt time.Time `json:"created_at"`
}

// BlockedHost is keyed by the hex SHA-256 digest of the lowercased host.
type BlockedHost struct {
	Digest    string    `json:"digest"`
	Host      string    `json:"host"`
	Batch     string    `json:"batch"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlockEntry is one row of the external domain-block feed. Domain may be obfuscated (e.g. "ex*mple.com").
type BlockEntry struct {
	Domain   string `json:"domain"`
	Digest   string `json:"digest"`
	Severity string `json:"severity,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// Account is a remote account as returned by follows and list membership endpoints.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	Note        string `json:"note,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	URL         string `json:"url,omitempty"`

	FollowingCount int `json:"following_count,omitempty"`
}

// List is a remote Mastodon list.
type List struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	RepliesPolicy string `json:"replies_policy,omitempty"`
	Exclusive     bool   `json:"exclusive,omitempty"`
}

// SessionRepository persists sessions.
type SessionRepository interface {
	Create(ctx context.Context, host, accessToken string) (*Session, error) // Create stores a fresh session with a newly generated token
	Get(ctx context.Context, token string) (*Session, error)                // Get returns nil, nil when the token is unknown
	Delete(ctx context.Context, token string) error                         // Delete is idempotent
}

// HostConfigRepository persists per-host app registrations.
type HostConfigRepository interface {
	Get(ctx context.Context, host string) (*HostConfig, error)             // Get returns nil, nil when the host has no registration
	Create(ctx context.Context, cfg *HostConfig) (created bool, err error) // Create inserts only when no row exists for the host
}

// TrustRepository persists the allow and block collections.
type TrustRepository interface {
	IsAllowedHost(ctx context.Context, host string) (bool, error)
	AllowHost(ctx context.Context, host string) error
	DisallowHost(ctx context.Context, host string) error
	ListAllowedHosts(ctx context.Context) ([]AllowedHost, error)
	IsBlockedDigest(ctx context.Context, digest string) (bool, error)
	PutBlockedHost(ctx context.Context, b BlockedHost) error
	DeleteBlockedExcept(ctx context.Context, batch string) (int, error) // DeleteBlockedExcept removes every entry not tagged with batch
	ListBlockedHosts(ctx context.Context) ([]BlockedHost, error)
}

// Store bundles the collections of one backend.
type Store interface {
	Sessions() SessionRepository
	HostConfigs() HostConfigRepository
	Trust() TrustRepository
	Close() error
}
