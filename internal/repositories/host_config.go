package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/acbeers/mastodonlm/internal/models"
)

// HostConfigRepository implements [models.HostConfigRepository] for the host_configs table.
type HostConfigRepository struct {
	db *sql.DB
}

// NewHostConfigRepository creates a new [HostConfigRepository] with the given database connection
func NewHostConfigRepository(db *sql.DB) *HostConfigRepository {
	return &HostConfigRepository{db: db}
}

// Get retrieves the registration for host, or nil when the host has none.
func (r *HostConfigRepository) Get(ctx context.Context, host string) (*models.HostConfig, error) {
	query := `
		SELECT host, client_id, client_secret, created_at
		FROM host_configs
		WHERE host = ?
	`

	var cfg models.HostConfig
	err := r.db.QueryRowContext(ctx, query, host).Scan(&cfg.Host, &cfg.ClientID, &cfg.ClientSecret, &cfg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query host config: %w", err)
	}

	return &cfg, nil
}

// Create inserts cfg only if the host has no registration yet and reports whether it did.
func (r *HostConfigRepository) Create(ctx context.Context, cfg *models.HostConfig) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, fmt.Errorf("validation failed: %w", err)
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO host_configs (host, client_id, client_secret, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(host) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, cfg.Host, cfg.ClientID, cfg.ClientSecret, cfg.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert host config: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows == 1, nil
}
