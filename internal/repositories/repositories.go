// package repositories provides persistence layer implementations for the list manager's collections.
//
// Each backend implements [models.Store]: SQLite tables through database/sql, or bbolt buckets.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/shared"
)

// DefaultSessionTTL is used when the configured session lifetime is zero.
const DefaultSessionTTL = 24 * time.Hour

// SQLStore implements [models.Store] on a SQLite database.
type SQLStore struct {
	db          *sql.DB
	sessions    *SessionRepository
	hostConfigs *HostConfigRepository
	trust       *TrustRepository
}

// NewSQLStore wraps an open database whose migrations have already run.
func NewSQLStore(db *sql.DB, sessionTTL time.Duration) *SQLStore {
	return &SQLStore{
		db:          db,
		sessions:    NewSessionRepository(db, sessionTTL),
		hostConfigs: NewHostConfigRepository(db),
		trust:       NewTrustRepository(db),
	}
}

func (s *SQLStore) Sessions() models.SessionRepository       { return s.sessions }
func (s *SQLStore) HostConfigs() models.HostConfigRepository { return s.hostConfigs }
func (s *SQLStore) Trust() models.TrustRepository            { return s.trust }

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Open builds the [models.Store] selected by cfg.Driver. SQLite databases are migrated before use.
func Open(ctx context.Context, cfg shared.StoreConfig, sessionTTL time.Duration) (models.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		db, err := shared.NewDatabase(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		shared.ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)

		if err := shared.RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return NewSQLStore(db, sessionTTL), nil
	case "bolt":
		return OpenBoltStore(cfg.BoltPath, sessionTTL)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", shared.ErrInvalidConfig, cfg.Driver)
	}
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultSessionTTL
	}
	return ttl
}
