package shared

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file and overridden by the environment.
type Config struct {
	Auth      AuthConfig      `toml:"auth"`
	Store     StoreConfig     `toml:"store"`
	Server    ServerConfig    `toml:"server"`
	Blocklist BlocklistConfig `toml:"blocklist"`
	Log       LogConfig       `toml:"log"`
}

// AuthConfig controls the OAuth dance against remote Mastodon hosts.
type AuthConfig struct {
	RedirectBase string        `toml:"redirect_base" env:"AUTH_REDIRECT"`
	DevOrigin    string        `toml:"dev_origin" env:"DEV_ORIGIN"`
	AppName      string        `toml:"app_name"`
	Website      string        `toml:"website"`
	UserAgent    string        `toml:"user_agent"`
	Timeout      time.Duration `toml:"timeout" env:"REMOTE_TIMEOUT"`
	SessionTTL   time.Duration `toml:"session_ttl"`
}

// StoreConfig selects and configures the key-value backend.
type StoreConfig struct {
	Driver       string `toml:"driver" env:"STORE_DRIVER"`
	Path         string `toml:"path" env:"DATABASE_PATH"`
	BoltPath     string `toml:"bolt_path" env:"BOLT_PATH"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr string `toml:"addr" env:"LISTEN_ADDR"`
}

// BlocklistConfig points at the external domain-block feed.
type BlocklistConfig struct {
	URL     string        `toml:"url" env:"BLOCKLIST_URL"`
	Rate    float64       `toml:"rate" env:"BLOCKLIST_RATE"`
	Timeout time.Duration `toml:"timeout"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level" env:"LOG_LEVEL"`
}

// LoadConfig reads a TOML configuration file on top of [DefaultConfig], so keys missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile writes the embedded example config to path. It refuses to overwrite an existing file.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv loads a .env file when present and overrides config values from environment variables.
// Variables that are unset leave the file value in place.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load()

	if err := env.Parse(c); err != nil {
		return fmt.Errorf("%w: parsing environment: %v", ErrInvalidConfig, err)
	}
	return c.Validate()
}

// Validate checks the values that the rest of the service relies on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.RedirectBase) == "" {
		return fmt.Errorf("%w: auth.redirect_base is required", ErrInvalidConfig)
	}
	if c.Auth.Timeout <= 0 {
		return fmt.Errorf("%w: auth.timeout must be positive", ErrInvalidConfig)
	}
	switch c.Store.Driver {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.Blocklist.Rate <= 0 {
		return fmt.Errorf("%w: blocklist.rate must be positive", ErrInvalidConfig)
	}
	return nil
}
