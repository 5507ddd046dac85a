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

// TrustRepository implements [models.TrustRepository] over the allowed_hosts and blocked_hosts tables.
type TrustRepository struct {
	db *sql.DB
}

// NewTrustRepository creates a new [TrustRepository] with the given database connection
func NewTrustRepository(db *sql.DB) *TrustRepository {
	return &TrustRepository{db: db}
}

// IsAllowedHost reports whether host is in the allow list. host must already be normalized.
func (r *TrustRepository) IsAllowedHost(ctx context.Context, host string) (bool, error) {
	return r.exists(ctx, "SELECT EXISTS(SELECT 1 FROM allowed_hosts WHERE host = ?)", host)
}

// AllowHost adds the normalized host to the allow list.
func (r *TrustRepository) AllowHost(ctx context.Context, host string) error {
	host = shared.NormalizeHost(host)
	if host == "" {
		return fmt.Errorf("%w: host", shared.ErrMissingArgument)
	}

	query := `INSERT INTO allowed_hosts (host, created_at) VALUES (?, ?) ON CONFLICT(host) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, host, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to allow host: %w", err)
	}
	return nil
}

// DisallowHost removes host from the allow list.
func (r *TrustRepository) DisallowHost(ctx context.Context, host string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM allowed_hosts WHERE host = ?", shared.NormalizeHost(host)); err != nil {
		return fmt.Errorf("failed to disallow host: %w", err)
	}
	return nil
}

// ListAllowedHosts returns the allow list ordered by host.
func (r *TrustRepository) ListAllowedHosts(ctx context.Context) ([]models.AllowedHost, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT host, created_at FROM allowed_hosts ORDER BY host")
	if err != nil {
		return nil, fmt.Errorf("failed to query allowed hosts: %w", err)
	}
	defer rows.Close()

	var hosts []models.AllowedHost
	for rows.Next() {
		var h models.AllowedHost
		if err := rows.Scan(&h.Host, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allowed host: %w", err)
		}
		hosts = append(hosts, h)
	}

	return hosts, rows.Err()
}

// IsBlockedDigest reports whether digest is in the block list.
func (r *TrustRepository) IsBlockedDigest(ctx context.Context, digest string) (bool, error) {
	return r.exists(ctx, "SELECT EXISTS(SELECT 1 FROM blocked_hosts WHERE digest = ?)", digest)
}

// PutBlockedHost upserts b keyed by its digest.
func (r *TrustRepository) PutBlockedHost(ctx context.Context, b models.BlockedHost) error {
	if b.Digest == "" {
		return fmt.Errorf("%w: digest", shared.ErrMissingArgument)
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO blocked_hosts (digest, host, batch, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(digest) DO UPDATE SET
			host = excluded.host,
			batch = excluded.batch,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, b.Digest, b.Host, b.Batch, b.UpdatedAt); err != nil {
		return fmt.Errorf("failed to put blocked host: %w", err)
	}
	return nil
}

// DeleteBlockedExcept removes every blocked host whose batch differs from batch and returns how many went.
func (r *TrustRepository) DeleteBlockedExcept(ctx context.Context, batch string) (int, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM blocked_hosts WHERE batch <> ?", batch)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale blocked hosts: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(rows), nil
}

// ListBlockedHosts returns the block list ordered by digest.
func (r *TrustRepository) ListBlockedHosts(ctx context.Context) ([]models.BlockedHost, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT digest, host, batch, updated_at FROM blocked_hosts ORDER BY digest")
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked hosts: %w", err)
	}
	defer rows.Close()

	var hosts []models.BlockedHost
	for rows.Next() {
		var b models.BlockedHost
		if err := rows.Scan(&b.Digest, &b.Host, &b.Batch, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blocked host: %w", err)
		}
		hosts = append(hosts, b)
	}

	return hosts, rows.Err()
}

func (r *TrustRepository) exists(ctx context.Context, query string, arg string) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to query trust list: %w", err)
	}
	return ok, nil
}
