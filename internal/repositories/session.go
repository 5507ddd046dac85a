package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/shared"
)

// SessionRepository implements [models.SessionRepository] for the sessions table.
type SessionRepository struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSessionRepository creates a new [SessionRepository]. Sessions expire ttl after creation (24h when zero).
func NewSessionRepository(db *sql.DB, ttl time.Duration) *SessionRepository {
	return &SessionRepository{db: db, ttl: ttlOrDefault(ttl), now: time.Now}
}

// Create stores a session for host under a freshly generated token.
func (r *SessionRepository) Create(ctx context.Context, host, accessToken string) (*models.Session, error) {
	session := models.NewSession(shared.GenerateSessionToken(), host, accessToken, r.now(), r.ttl)
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO sessions (token, host, access_token, created_at, expires_at) VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query, session.Token, session.Host, session.AccessToken, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	return session, nil
}

// Get returns the session stored under token, or nil when there is none. Expiry is not checked.
func (r *SessionRepository) Get(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT token, host, access_token, created_at, expires_at
		FROM sessions
		WHERE token = ?
	`

	var s models.Session
	err := r.db.QueryRowContext(ctx, query, token).Scan(&s.Token, &s.Host, &s.AccessToken, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	return &s, nil
}

// Delete removes the session. Deleting an unknown token is not an error.
func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
