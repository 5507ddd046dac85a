package main

import (
	"context"
	"fmt"
	"os"

	"github.com/acbeers/mastodonlm/internal/repositories"
	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase creates the config file from the template when it is missing, then initializes the configured store.
//
// SQLite databases are migrated; bbolt files get their buckets.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	var config *shared.Config
	if _, err := os.Stat(configPath); err == nil {
		if config, err = shared.LoadConfig(configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return err
		}
		r.logger.Info("config file created", "path", configPath)
		config = shared.DefaultConfig()
	}

	if err := config.ApplyEnv(); err != nil {
		return err
	}

	path := config.Store.Path
	if config.Store.Driver == "bolt" {
		path = config.Store.BoltPath
	}
	r.logger.Info("initializing store", "driver", config.Store.Driver, "path", path)

	store, err := repositories.Open(ctx, config.Store, config.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	r.logger.Infof("setup complete for store: %v", path)
	return r.writePlain("✓ Store ready: %s (%s)\n", path, config.Store.Driver)
}
