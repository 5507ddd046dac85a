package shared

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		assert.Equal(t, "https://acbeers.github.io/mastodonlm", config.Auth.RedirectBase)
		assert.Equal(t, "http://localhost:3000", config.Auth.DevOrigin)
		assert.Equal(t, "mastodonlistmanager", config.Auth.UserAgent)
		assert.Equal(t, 30*time.Second, config.Auth.Timeout)
		assert.Equal(t, 24*time.Hour, config.Auth.SessionTTL)
		assert.Equal(t, "sqlite", config.Store.Driver)
		assert.Equal(t, 10.0, config.Blocklist.Rate)
		require.NoError(t, config.Validate())
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		require.NoError(t, CreateConfigFile(configPath))

		config, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Store.Path, config.Store.Path)

		assert.Error(t, CreateConfigFile(configPath), "creating config file again should fail")
	})

	t.Run("LoadConfig keeps defaults for missing keys", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		partial := `[store]
driver = "bolt"
bolt_path = "/var/lib/mastodonlm/state.bolt"

[auth]
timeout = "5s"
`
		require.NoError(t, os.WriteFile(configPath, []byte(partial), 0644))

		config, err := LoadConfig(configPath)
		require.NoError(t, err)

		assert.Equal(t, "bolt", config.Store.Driver)
		assert.Equal(t, "/var/lib/mastodonlm/state.bolt", config.Store.BoltPath)
		assert.Equal(t, 5*time.Second, config.Auth.Timeout)
		assert.Equal(t, "https://acbeers.github.io/mastodonlm", config.Auth.RedirectBase)
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		assert.ErrorIs(t, err, ErrMissingConfig)
	})

	t.Run("LoadConfig malformed file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(configPath, []byte("[auth\nredirect_base ="), 0644))

		_, err := LoadConfig(configPath)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("ApplyEnv overrides set variables only", func(t *testing.T) {
		t.Setenv("AUTH_REDIRECT", "https://lists.example.org")
		t.Setenv("STORE_DRIVER", "bolt")
		t.Setenv("BLOCKLIST_RATE", "4")

		config := DefaultConfig()
		require.NoError(t, config.ApplyEnv())

		assert.Equal(t, "https://lists.example.org", config.Auth.RedirectBase)
		assert.Equal(t, "bolt", config.Store.Driver)
		assert.Equal(t, 4.0, config.Blocklist.Rate)
		assert.Equal(t, "http://localhost:3000", config.Auth.DevOrigin)
	})

	t.Run("Validate", func(t *testing.T) {
		config := DefaultConfig()
		config.Store.Driver = "dynamo"
		assert.ErrorIs(t, config.Validate(), ErrInvalidConfig)

		config = DefaultConfig()
		config.Auth.RedirectBase = " "
		assert.ErrorIs(t, config.Validate(), ErrInvalidConfig)

		config = DefaultConfig()
		config.Blocklist.Rate = 0
		assert.ErrorIs(t, config.Validate(), ErrInvalidConfig)
	})
}
