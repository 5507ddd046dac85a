package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// DefaultWriteRate paces block-list writes below the backing store's per-second item-write ceiling.
const DefaultWriteRate = 10.0

// HostTrust decides which hosts may be contacted at all.
type HostTrust struct {
	repo      models.TrustRepository
	writeRate float64
	logger    *log.Logger
}

// NewHostTrust creates a [HostTrust] that writes block-list entries at most writeRate per second.
func NewHostTrust(repo models.TrustRepository, writeRate float64, logger *log.Logger) *HostTrust {
	if writeRate <= 0 {
		writeRate = DefaultWriteRate
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &HostTrust{repo: repo, writeRate: writeRate, logger: logger}
}

// IsAllowed reports whether host may be contacted.
//
// Allowed hosts always pass, whatever the block list says. Otherwise a host is denied only when the sha256 of its
// normalized form is on the block list.
func (h *HostTrust) IsAllowed(ctx context.Context, host string) (bool, error) {
	host = shared.NormalizeHost(host)

	allowed, err := h.repo.IsAllowedHost(ctx, host)
	if err != nil {
		return false, err
	}
	if allowed {
		return true, nil
	}

	blocked, err := h.repo.IsBlockedDigest(ctx, shared.HostDigest(host))
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// RefreshResult summarizes one block-list refresh.
type RefreshResult struct {
	Batch    string
	Upserted int
	Deleted  int
}

// RefreshBlockList mirrors entries into the block list under batch.
//
// Entries are written one at a time through a rate limiter. Once every write has succeeded, entries tagged with any
// other batch are deleted. If a write fails, entries already written stay and nothing is deleted.
func (h *HostTrust) RefreshBlockList(ctx context.Context, entries []models.BlockEntry, batch string, progress chan<- ProgressUpdate) (*RefreshResult, error) {
	if batch == "" {
		return nil, fmt.Errorf("%w: batch", shared.ErrMissingArgument)
	}

	result := &RefreshResult{Batch: batch}
	limiter := rate.NewLimiter(rate.Limit(h.writeRate), 1)

	for i, entry := range entries {
		digest := strings.ToLower(strings.TrimSpace(entry.Digest))
		if digest == "" {
			digest = shared.HostDigest(entry.Domain)
		}

		if err := limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("block list refresh interrupted after %d of %d entries: %w", result.Upserted, len(entries), err)
		}

		err := h.repo.PutBlockedHost(ctx, models.BlockedHost{Digest: digest, Host: entry.Domain, Batch: batch})
		if err != nil {
			h.logger.Error("block list write failed; skipping prune", "domain", entry.Domain, "batch", batch, "error", err)
			return result, fmt.Errorf("block list refresh failed after %d of %d entries: %w", result.Upserted, len(entries), err)
		}

		result.Upserted++
		sendProgress(progress, upsertBlockedUpdate(i+1, len(entries), entry.Domain))
	}

	deleted, err := h.repo.DeleteBlockedExcept(ctx, batch)
	if err != nil {
		return result, err
	}
	result.Deleted = deleted
	sendProgress(progress, pruneBlockedUpdate(deleted, batch))

	h.logger.Info("block list refreshed", "batch", batch, "upserted", result.Upserted, "deleted", result.Deleted)
	return result, nil
}
