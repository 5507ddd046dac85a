package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/shared"
	tu "github.com/acbeers/mastodonlm/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostTrust(t *testing.T) {
	ctx := context.Background()

	t.Run("IsAllowed", func(t *testing.T) {
		h := newHarness(t)
		repo := h.store.Trust()

		require.NoError(t, repo.AllowHost(ctx, "friendly.example"))
		for _, host := range []string{"friendly.example", "blocked.example"} {
			require.NoError(t, repo.PutBlockedHost(ctx, models.BlockedHost{Digest: shared.HostDigest(host), Host: host, Batch: "t1"}))
		}

		tc := []struct {
			name string
			host string
			want bool
		}{
			{name: "allow overrides block", host: "friendly.example", want: true},
			{name: "allow is case and whitespace insensitive", host: "  FRIENDLY.example ", want: true},
			{name: "blocked digest", host: "blocked.example", want: false},
			{name: "blocked digest after normalization", host: "Blocked.Example\t", want: false},
			{name: "unknown hosts are allowed", host: "mastodon.social", want: true},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				got, err := h.trust.IsAllowed(ctx, tt.host)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	})

	t.Run("Cleaned Input Keeps Blocked Hosts Blocked", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Trust().PutBlockedHost(ctx, models.BlockedHost{Digest: shared.HostDigest("blocked.example"), Host: "blocked.example", Batch: "t1"}))

		for _, raw := range []string{"https://blocked.example:8443/about", "@me@blocked.example:443", "https://u:p@blocked.example#x"} {
			allowed, err := h.trust.IsAllowed(ctx, shared.CleanDomain(raw))
			require.NoError(t, err)
			assert.False(t, allowed, raw)
		}
	})

t.Run("RefreshBlockList", func(t *testing.T) {
		t.Run("Replaces Previous Batch", func(t *testing.T) {
			h := newHarness(t)

			_, err := h.trust.RefreshBlockList(ctx, []models.BlockEntry{{Domain: "a", Digest: "d1"}}, "t1", nil)
			require.NoError(t, err)

			res, err := h.trust.RefreshBlockList(ctx, []models.BlockEntry{{Domain: "b", Digest: "d2"}}, "t2", nil)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Upserted)
			assert.Equal(t, 1, res.Deleted)

			d1, err := h.store.Trust().IsBlockedDigest(ctx, "d1")
			require.NoError(t, err)
			d2, err := h.store.Trust().IsBlockedDigest(ctx, "d2")
			require.NoError(t, err)
			assert.False(t, d1)
			assert.True(t, d2)
		})

		t.Run("Idempotent", func(t *testing.T) {
			h := newHarness(t)
			entries := []models.BlockEntry{{Domain: "a", Digest: "d1"}, {Domain: "b", Digest: "d2"}}

			_, err := h.trust.RefreshBlockList(ctx, entries, "t1", nil)
			require.NoError(t, err)
			first, err := h.store.Trust().ListBlockedHosts(ctx)
			require.NoError(t, err)

			res, err := h.trust.RefreshBlockList(ctx, entries, "t1", nil)
			require.NoError(t, err)
			assert.Zero(t, res.Deleted)

			second, err := h.store.Trust().ListBlockedHosts(ctx)
			require.NoError(t, err)
			require.Len(t, second, len(first))
			for i := range first {
				assert.Equal(t, first[i].Digest, second[i].Digest)
				assert.Equal(t, first[i].Batch, second[i].Batch)
			}
		})

		t.Run("Computes Missing Digest", func(t *testing.T) {
			h := newHarness(t)

			_, err := h.trust.RefreshBlockList(ctx, []models.BlockEntry{{Domain: "Spam.Example"}}, "t1", nil)
			require.NoError(t, err)

			allowed, err := h.trust.IsAllowed(ctx, "spam.example")
			require.NoError(t, err)
			assert.False(t, allowed)
		})

		t.Run("Failed Write Skips Prune", func(t *testing.T) {
			h := newHarness(t)
			_, err := h.trust.RefreshBlockList(ctx, []models.BlockEntry{{Domain: "old", Digest: "d0"}}, "t0", nil)
			require.NoError(t, err)

			repo := &failingTrust{TrustRepository: h.store.Trust(), okWrites: 1}
			trust := NewHostTrust(repo, 1000, nil)

			entries := []models.BlockEntry{{Domain: "a", Digest: "d1"}, {Domain: "b", Digest: "d2"}, {Domain: "c", Digest: "d3"}}
			res, err := trust.RefreshBlockList(ctx, entries, "t1", nil)
			require.Error(t, err)
			assert.Equal(t, 1, res.Upserted)
			assert.Zero(t, repo.deletes)

			for digest, want := range map[string]bool{"d0": true, "d1": true, "d2": false} {
				got, err := h.store.Trust().IsBlockedDigest(ctx, digest)
				require.NoError(t, err)
				assert.Equal(t, want, got, digest)
			}
		})

		t.Run("Paces Writes", func(t *testing.T) {
			h := newHarness(t)
			trust := NewHostTrust(h.store.Trust(), 20, nil)

			entries := make([]models.BlockEntry, 5)
			for i := range entries {
				entries[i] = models.BlockEntry{Domain: string(rune('a' + i))}
			}

			start := time.Now()
			_, err := trust.RefreshBlockList(ctx, entries, "t1", nil)
			require.NoError(t, err)

			// burst of one, then 50ms per write
			assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
		})

		t.Run("Cancelled", func(t *testing.T) {
			h := newHarness(t)
			trust := NewHostTrust(h.store.Trust(), 1, nil)

			cctx, cancel := context.WithCancel(ctx)
			cancel()

			_, err := trust.RefreshBlockList(cctx, []models.BlockEntry{{Domain: "a"}, {Domain: "b"}}, "t1", nil)
			assert.ErrorIs(t, err, context.Canceled)
		})

		t.Run("Reports Progress", func(t *testing.T) {
			h := newHarness(t)
			progress := make(chan ProgressUpdate, 10)

			_, err := h.trust.RefreshBlockList(ctx, []models.BlockEntry{{Domain: "a"}, {Domain: "b"}}, "t1", progress)
			require.NoError(t, err)
			close(progress)

			var phases []Phase
			for u := range progress {
				phases = append(phases, u.Phase)
			}
			assert.Equal(t, []Phase{UpsertBlocked, UpsertBlocked, PruneBlocked}, phases)
		})

		t.Run("Requires Batch", func(t *testing.T) {
			h := newHarness(t)
			_, err := h.trust.RefreshBlockList(ctx, nil, "", nil)
			assert.ErrorIs(t, err, shared.ErrMissingArgument)
		})
	})
}

func TestBlockListFeed(t *testing.T) {
	ctx := context.Background()
	feed := []models.BlockEntry{
		{Domain: "spam.example", Digest: shared.HostDigest("spam.example"), Severity: "suspend"},
		{Domain: "tr**l.example", Digest: shared.HostDigest("troll.example"), Severity: "suspend", Comment: "harassment"},
	}

	t.Run("UpdateBlockList", func(t *testing.T) {
		var agent string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agent = r.UserAgent()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(feed)
		}))
		defer srv.Close()

		h := newHarness(t)
		res, err := h.trust.UpdateBlockList(ctx, srv.Client(), srv.URL, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Upserted)
		assert.Equal(t, shared.UserAgent, agent)

		allowed, err := h.trust.IsAllowed(ctx, "troll.example")
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("Back To Back Refreshes Prune", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if calls.Add(1) == 1 {
				json.NewEncoder(w).Encode(feed)
				return
			}
			json.NewEncoder(w).Encode(feed[:1])
		}))
		defer srv.Close()

		h := newHarness(t)
		progress := make(chan ProgressUpdate, 10)
		_, err := h.trust.UpdateBlockList(ctx, srv.Client(), srv.URL, progress)
		require.NoError(t, err)
		u := <-progress
		assert.Equal(t, FetchingBlockList, u.Phase)
		assert.Equal(t, "fetch_block_list", u.Phase.String())

		res, err := h.trust.UpdateBlockList(ctx, srv.Client(), srv.URL, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Deleted)

		allowed, err := h.trust.IsAllowed(ctx, "troll.example")
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("Unreadable Feed Body", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusOK, Body: &tu.FCloser{}, Header: http.Header{}}
		client := &http.Client{Transport: tu.NewMockRoundTripper(resp, nil)}

		h := newHarness(t)
		_, err := h.trust.UpdateBlockList(ctx, client, "https://feed.example/blocks", nil)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)

		blocked, err := h.store.Trust().ListBlockedHosts(ctx)
		require.NoError(t, err)
		assert.Empty(t, blocked)
	})

	t.Run("Feed Failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		h := newHarness(t)
		_, err := h.trust.UpdateBlockList(ctx, srv.Client(), srv.URL, nil)
		assert.ErrorIs(t, err, shared.ErrAPIRequest)
	})

	t.Run("ReadBlockList", func(t *testing.T) {
		entries, err := ReadBlockList(strings.NewReader(`[{"domain":"a.example","digest":"abc","severity":"silence"}]`))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "abc", entries[0].Digest)

		_, err = ReadBlockList(strings.NewReader(`{"error":"nope"}`))
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("ReadBlockListFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "blocks.json")
		data, err := json.Marshal(feed)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0644))

		entries, err := ReadBlockListFile(path)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("NewBatchID", func(t *testing.T) {
		assert.Equal(t, "1700000000000000001", NewBatchID(time.Unix(1700000000, 1)))
		now := time.Unix(1700000000, 0)
		assert.NotEqual(t, NewBatchID(now), NewBatchID(now.Add(time.Millisecond)))
	})
}
