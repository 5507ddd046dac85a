package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/acbeers/mastodonlm/internal/tasks"
	"github.com/urfave/cli/v3"
)

// BlocklistRefresh mirrors the domain-block feed into the block list.
//
// The feed comes from --file when given, else from --url or blocklist.url. Entries missing from the feed are removed
// once every entry has been written.
func (r *Runner) BlocklistRefresh(ctx context.Context, cmd *cli.Command) error {
	store, done, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer done()

	trust := tasks.NewHostTrust(store.Trust(), r.config.Blocklist.Rate, shared.WithLogger(r.logger, "component", "trust"))

	progress := make(chan tasks.ProgressUpdate, 16)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for u := range progress {
			if u.Phase == tasks.UpsertBlocked {
				r.logger.Debug(u.Message, "phase", u.Phase)
				continue
			}
			r.logger.Info(u.Message, "phase", u.Phase)
		}
	}()

	var result *tasks.RefreshResult
	if file := cmd.String("file"); file != "" {
		entries, ferr := tasks.ReadBlockListFile(file)
		if ferr != nil {
			close(progress)
			<-drained
			return ferr
		}
		result, err = trust.RefreshBlockList(ctx, entries, tasks.NewBatchID(time.Now()), progress)
	} else {
		url := cmd.String("url")
		if url == "" {
			url = r.config.Blocklist.URL
		}
		client := &http.Client{Transport: r.httpClient.Transport, Timeout: r.config.Blocklist.Timeout}
		result, err = trust.UpdateBlockList(ctx, client, url, progress)
	}
	close(progress)
	<-drained

	if err != nil {
		return fmt.Errorf("block list refresh failed: %w", err)
	}

	r.logger.Info("block list refreshed", "batch", result.Batch, "upserted", result.Upserted, "deleted", result.Deleted)
	return r.writePlain("✓ Block list refreshed: %d stored, %d removed (batch %s)\n", result.Upserted, result.Deleted, result.Batch)
}

// BlocklistList prints the mirrored block list.
func (r *Runner) BlocklistList(ctx context.Context, cmd *cli.Command) error {
	store, done, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer done()

	blocked, err := store.Trust().ListBlockedHosts(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(blocked, true)
	}
	for _, b := range blocked {
		if err := r.writePlain("%s  %s  %s\n", b.Digest, b.Batch, b.Host); err != nil {
			return err
		}
	}
	return nil
}

// AllowAdd puts a host on the allow list.
func (r *Runner) AllowAdd(ctx context.Context, cmd *cli.Command) error {
	host, err := hostArg(cmd)
	if err != nil {
		return err
	}

	store, done, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := store.Trust().AllowHost(ctx, host); err != nil {
		return err
	}
	r.logger.Info("host allowed", "host", host)
	return r.writePlain("✓ Allowed %s\n", host)
}

// AllowRemove takes a host off the allow list. The block list applies to it again.
func (r *Runner) AllowRemove(ctx context.Context, cmd *cli.Command) error {
	host, err := hostArg(cmd)
	if err != nil {
		return err
	}

	store, done, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := store.Trust().DisallowHost(ctx, host); err != nil {
		return err
	}
	r.logger.Info("host no longer allowed", "host", host)
	return r.writePlain("✓ Removed %s\n", host)
}

// AllowList prints the allow list.
func (r *Runner) AllowList(ctx context.Context, cmd *cli.Command) error {
	store, done, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer done()

	allowed, err := store.Trust().ListAllowedHosts(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(allowed, true)
	}
	for _, a := range allowed {
		if err := r.writePlain("%s\n", a.Host); err != nil {
			return err
		}
	}
	return nil
}

func hostArg(cmd *cli.Command) (string, error) {
	host := shared.CleanDomain(cmd.StringArg("host"))
	if host == "" {
		return "", fmt.Errorf("%w: host", shared.ErrMissingArgument)
	}
	return host, nil
}
