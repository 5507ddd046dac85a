package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/shared"
	bolt "go.etcd.io/bbolt"
)

const (
	boltDirPerm     = fs.FileMode(0o700)
	boltFilePerm    = fs.FileMode(0o600)
	boltOpenTimeout = 5 * time.Second
)

var (
	sessionsBucket     = []byte("sessions")
	hostConfigsBucket  = []byte("host_configs")
	allowedHostsBucket = []byte("allowed_hosts")
	blockedHostsBucket = []byte("blocked_hosts")
)

// BoltStore implements [models.Store] with one bbolt bucket per collection and JSON values.
type BoltStore struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// OpenBoltStore opens (creating when needed) the bbolt file at path.
func OpenBoltStore(path string, sessionTTL time.Duration) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: store.bolt_path is required", shared.ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, hostConfigsBucket, allowedHostsBucket, blockedHostsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing bolt store: %w", err)
	}

	return &BoltStore{db: db, ttl: ttlOrDefault(sessionTTL), now: time.Now}, nil
}

func (s *BoltStore) Sessions() models.SessionRepository       { return boltSessions{s} }
func (s *BoltStore) HostConfigs() models.HostConfigRepository { return boltHostConfigs{s} }
func (s *BoltStore) Trust() models.TrustRepository            { return boltTrust{s} }

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) get(bucket []byte, key string, v any) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

func (s *BoltStore) put(bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) del(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

type boltSessions struct{ s *BoltStore }

func (r boltSessions) Create(_ context.Context, host, accessToken string) (*models.Session, error) {
	session := models.NewSession(shared.GenerateSessionToken(), host, accessToken, r.s.now(), r.s.ttl)
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := r.s.put(sessionsBucket, session.Token, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return session, nil
}

func (r boltSessions) Get(_ context.Context, token string) (*models.Session, error) {
	var session models.Session
	found, err := r.s.get(sessionsBucket, token, &session)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &session, nil
}

func (r boltSessions) Delete(_ context.Context, token string) error {
	if err := r.s.del(sessionsBucket, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

type boltHostConfigs struct{ s *BoltStore }

func (r boltHostConfigs) Get(_ context.Context, host string) (*models.HostConfig, error) {
	var cfg models.HostConfig
	found, err := r.s.get(hostConfigsBucket, host, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read host config: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &cfg, nil
}

// Create checks and writes inside one update transaction; bbolt serializes writers.
func (r boltHostConfigs) Create(_ context.Context, cfg *models.HostConfig) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, fmt.Errorf("validation failed: %w", err)
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = r.s.now().UTC()
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return false, err
	}

	var created bool
	err = r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(hostConfigsBucket)
		if b.Get([]byte(cfg.Host)) != nil {
			return nil
		}
		created = true
		return b.Put([]byte(cfg.Host), data)
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert host config: %w", err)
	}
	return created, nil
}

type boltTrust struct{ s *BoltStore }

func (r boltTrust) IsAllowedHost(_ context.Context, host string) (bool, error) {
	var h models.AllowedHost
	return r.s.get(allowedHostsBucket, host, &h)
}

func (r boltTrust) AllowHost(_ context.Context, host string) error {
	host = shared.NormalizeHost(host)
	if host == "" {
		return fmt.Errorf("%w: host", shared.ErrMissingArgument)
	}
	return r.s.put(allowedHostsBucket, host, models.AllowedHost{Host: host, CreatedAt: r.s.now().UTC()})
}

func (r boltTrust) DisallowHost(_ context.Context, host string) error {
	return r.s.del(allowedHostsBucket, shared.NormalizeHost(host))
}

func (r boltTrust) ListAllowedHosts(_ context.Context) ([]models.AllowedHost, error) {
	var hosts []models.AllowedHost
	err := r.s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(allowedHostsBucket).ForEach(func(_, v []byte) error {
			var h models.AllowedHost
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			hosts = append(hosts, h)
			return nil
		})
	})
	return hosts, err
}

func (r boltTrust) IsBlockedDigest(_ context.Context, digest string) (bool, error) {
	var b models.BlockedHost
	return r.s.get(blockedHostsBucket, digest, &b)
}

func (r boltTrust) PutBlockedHost(_ context.Context, b models.BlockedHost) error {
	if b.Digest == "" {
		return fmt.Errorf("%w: digest", shared.ErrMissingArgument)
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = r.s.now().UTC()
	}
	return r.s.put(blockedHostsBucket, b.Digest, b)
}

// DeleteBlockedExcept collects stale keys first; bbolt forbids mutating a bucket while iterating it.
func (r boltTrust) DeleteBlockedExcept(_ context.Context, batch string) (int, error) {
	var deleted int
	err := r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blockedHostsBucket)

		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry models.BlockedHost
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.Batch != batch {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale blocked hosts: %w", err)
	}
	return deleted, nil
}

func (r boltTrust) ListBlockedHosts(_ context.Context) ([]models.BlockedHost, error) {
	var hosts []models.BlockedHost
	err := r.s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blockedHostsBucket).ForEach(func(_, v []byte) error {
			var b models.BlockedHost
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			hosts = append(hosts, b)
			return nil
		})
	})
	return hosts, err
}
