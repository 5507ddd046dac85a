package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/shared"
)

// DefaultBlockListURL is the public domain-block feed mirrored into the block list.
const DefaultBlockListURL = "https://hachyderm.io/api/v1/instance/domain_blocks"

// NewBatchID tags a refresh with the unix nanoseconds of t.
func NewBatchID(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

// FetchBlockList downloads a Mastodon domain_blocks feed.
func FetchBlockList(ctx context.Context, client *http.Client, url string) ([]models.BlockEntry, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", shared.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: block list feed: %v", shared.ErrBadHost, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: block list feed returned %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	return ReadBlockList(resp.Body)
}

// ReadBlockList decodes a domain_blocks JSON array.
func ReadBlockList(r io.Reader) ([]models.BlockEntry, error) {
	var entries []models.BlockEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decoding block list: %v", shared.ErrInvalidInput, err)
	}
	return entries, nil
}

// ReadBlockListFile decodes a domain_blocks JSON array saved on disk.
func ReadBlockListFile(path string) ([]models.BlockEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open block list: %w", err)
	}
	defer f.Close()
	return ReadBlockList(f)
}

// UpdateBlockList fetches the feed at url and mirrors it under a batch tagged with the current time.
func (h *HostTrust) UpdateBlockList(ctx context.Context, client *http.Client, url string, progress chan<- ProgressUpdate) (*RefreshResult, error) {
	if url == "" {
		url = DefaultBlockListURL
	}

	sendProgress(progress, fetchBlockListUpdate(url))
	entries, err := FetchBlockList(ctx, client, url)
	if err != nil {
		return nil, err
	}

	return h.RefreshBlockList(ctx, entries, NewBatchID(time.Now()), progress)
}
