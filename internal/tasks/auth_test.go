package tasks

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/services"
	"github.com/acbeers/mastodonlm/internal/shared"
	tu "github.com/acbeers/mastodonlm/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedirectURL(t *testing.T) {
	h := newHarness(t)

	t.Run("dev origin", func(t *testing.T) {
		assert.Equal(t, "http://localhost:3000/callback?domain=mastodon.social", h.flow.RedirectURL("http://localhost:3000", "mastodon.social"))
	})

	t.Run("any other origin", func(t *testing.T) {
		assert.Equal(t, "https://lists.example/callback?domain=mastodon.social", h.flow.RedirectURL("https://evil.example", "mastodon.social"))
		assert.Equal(t, "https://lists.example/callback?domain=mastodon.social", h.flow.RedirectURL("", "mastodon.social"))
	})
}

func TestAuthFlowStart(t *testing.T) {
	ctx := context.Background()

	t.Run("No Session And No Domain", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.flow.Start(ctx, StartRequest{})
		assert.ErrorIs(t, err, shared.ErrNoDomain)
		assert.ErrorIs(t, err, shared.ErrBadHost)
		assert.Nil(t, res)
		assert.Zero(t, h.fake.TotalCalls(), "no network call expected")
	})

	t.Run("Unknown Domain Registers Once", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.flow.Start(ctx, StartRequest{Domain: "https://Fresh.Example/about", Origin: "https://lists.example"})
		require.NoError(t, err)
		assert.False(t, res.AlreadyAuthenticated)
		assert.Equal(t, "fresh.example", res.Domain)

		assert.Equal(t, 1, h.fake.Calls(http.MethodPost, "/api/v1/apps"))
		cfg, err := h.store.HostConfigs().Get(ctx, "fresh.example")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		u, err := url.Parse(res.URL)
		require.NoError(t, err)
		assert.Equal(t, "/oauth/authorize", u.Path)
		assert.Equal(t, cfg.ClientID, u.Query().Get("client_id"))
		assert.Equal(t, "https://lists.example/callback?domain=fresh.example", u.Query().Get("redirect_uri"))
		assert.Equal(t, models.ScopeString(), u.Query().Get("scope"))

		assert.Equal(t, h.fake.LastForm(http.MethodPost, "/api/v1/apps").Get("redirect_uris"), u.Query().Get("redirect_uri"))

		_, err = h.flow.Start(ctx, StartRequest{Domain: "fresh.example"})
		require.NoError(t, err)
		assert.Equal(t, 1, h.fake.Calls(http.MethodPost, "/api/v1/apps"), "second start reuses the registration")
	})

	t.Run("Live Session Short Circuits", func(t *testing.T) {
		h := newHarness(t)
		session := h.login(t, "home.example")

		res, err := h.flow.Start(ctx, StartRequest{SessionToken: session.Token})
		require.NoError(t, err)
		assert.True(t, res.AlreadyAuthenticated)
		assert.Equal(t, "home.example", res.Domain)
		assert.Empty(t, res.URL)
		assert.Zero(t, h.fake.Calls(http.MethodPost, "/api/v1/apps"))
	})

	t.Run("Domain Mismatch Discards Session", func(t *testing.T) {
		h := newHarness(t)
		session := h.login(t, "mydomain")

		res, err := h.flow.Start(ctx, StartRequest{SessionToken: session.Token, Domain: "anotherdomain"})
		require.NoError(t, err)
		assert.False(t, res.AlreadyAuthenticated)
		assert.Equal(t, "anotherdomain", res.Domain)
		assert.NotEmpty(t, res.URL)

		assert.Zero(t, h.fake.Calls(http.MethodGet, "/api/v1/accounts/verify_credentials"), "mismatched session must not be used")
		assert.Equal(t, 1, h.fake.Calls(http.MethodPost, "/api/v1/apps"))

		kept, err := h.store.Sessions().Get(ctx, session.Token)
		require.NoError(t, err)
		assert.NotNil(t, kept, "ignored, not deleted")
	})

	t.Run("Generic API Error On Liveness Falls Through", func(t *testing.T) {
		h := newHarness(t)
		session := h.login(t, "home.example")
		h.fake.SetStatus(tu.RouteVerify, http.StatusTooManyRequests)

		res, err := h.flow.Start(ctx, StartRequest{SessionToken: session.Token})
		require.NoError(t, err)
		assert.False(t, res.AlreadyAuthenticated)
		assert.NotEmpty(t, res.URL)
	})

	t.Run("Rejected Token Falls Through", func(t *testing.T) {
		h := newHarness(t)
		tu.RegisterHost(t, h.store.HostConfigs(), "home.example")
		session, err := h.store.Sessions().Create(ctx, "home.example", "revoked-token")
		require.NoError(t, err)

		res, err := h.flow.Start(ctx, StartRequest{SessionToken: session.Token, Domain: "home.example"})
		require.NoError(t, err)
		assert.NotEmpty(t, res.URL)
	})

	t.Run("Unknown Session Token", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.flow.Start(ctx, StartRequest{SessionToken: "urn:uuid:gone", Domain: "home.example"})
		require.NoError(t, err)
		assert.NotEmpty(t, res.URL)

		_, err = h.flow.Start(ctx, StartRequest{SessionToken: "urn:uuid:gone"})
		assert.ErrorIs(t, err, shared.ErrNoDomain)
	})

	t.Run("Not Allowed", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Trust().PutBlockedHost(ctx, models.BlockedHost{Digest: shared.HostDigest("bad.example"), Host: "bad.example", Batch: "t1"}))

		_, err := h.flow.Start(ctx, StartRequest{Domain: "Bad.Example"})
		assert.ErrorIs(t, err, shared.ErrNotAllowed)
		assert.Zero(t, h.fake.TotalCalls())
	})

	t.Run("Not Allowed Through Disguised Input", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Trust().PutBlockedHost(ctx, models.BlockedHost{Digest: shared.HostDigest("bad.example"), Host: "bad.example", Batch: "t1"}))

		for _, raw := range []string{
			"https://bad.example:443/",
			"me@bad.example:443",
			"https://x@bad.example/",
			"me@bad.example/",
			"https://bad.example?",
		} {
			t.Run(raw, func(t *testing.T) {
				_, err := h.flow.Start(ctx, StartRequest{Domain: raw})
				assert.ErrorIs(t, err, shared.ErrNotAllowed)
			})
		}
		assert.Zero(t, h.fake.TotalCalls())
	})

	t.Run("Not Mastodon", func(t *testing.T) {
		h := newHarness(t)
		h.fake.SetInstanceBody(`<html><title>Just a moment...</title></html>`)

		_, err := h.flow.Start(ctx, StartRequest{Domain: "edge.example"})
		assert.ErrorIs(t, err, shared.ErrNotMastodon)
	})

	t.Run("Registration Network Failure Carries Raw Input", func(t *testing.T) {
		h := newHarnessWith(t, tu.NewFakeMastodon(t), unreachable())

		_, err := h.flow.Start(ctx, StartRequest{Domain: "@me@NoWhere.invalid"})
		assert.ErrorIs(t, err, shared.ErrBadHost)

		var bad *services.BadHostError
		require.ErrorAs(t, err, &bad)
		assert.Equal(t, "@me@NoWhere.invalid", bad.Domain)
	})
}

func TestAuthFlowCallback(t *testing.T) {
	ctx := context.Background()

	start := func(t *testing.T, h *harness, domain string) {
		t.Helper()
		_, err := h.flow.Start(ctx, StartRequest{Domain: domain})
		require.NoError(t, err)
	}

	t.Run("Creates Session", func(t *testing.T) {
		h := newHarness(t)
		start(t, h, "home.example")

		session, err := h.flow.Callback(ctx, CallbackRequest{Domain: "home.example", Code: tu.GoodCode})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(session.Token, "urn:uuid:"))

		stored, err := h.store.Sessions().Get(ctx, session.Token)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "home.example", stored.Host)
		assert.Equal(t, h.fake.AccessToken(), stored.AccessToken)

		form := h.fake.LastForm(http.MethodPost, "/oauth/token")
		assert.Equal(t, models.ScopeString(), form.Get("scope"))
		assert.Equal(t, "https://lists.example/callback?domain=home.example", form.Get("redirect_uri"))

		res, err := h.flow.Start(ctx, StartRequest{SessionToken: session.Token})
		require.NoError(t, err)
		assert.True(t, res.AlreadyAuthenticated)
	})

	t.Run("Illegal Argument Creates No Session", func(t *testing.T) {
		h := newHarness(t)
		start(t, h, "home.example")

		_, err := h.flow.Callback(ctx, CallbackRequest{Domain: "home.example", Code: "stale"})
		assert.ErrorIs(t, err, shared.ErrIllegalArgument)
	})

	t.Run("Unknown Host Config", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.flow.Callback(ctx, CallbackRequest{Domain: "never.example", Code: tu.GoodCode})
		assert.ErrorIs(t, err, shared.ErrNoAuthInfo)
		assert.Zero(t, h.fake.TotalCalls())
	})

	t.Run("Missing Parameters", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.flow.Callback(ctx, CallbackRequest{Domain: "home.example"})
		assert.ErrorIs(t, err, shared.ErrNoAuthInfo)
		_, err = h.flow.Callback(ctx, CallbackRequest{Code: tu.GoodCode})
		assert.ErrorIs(t, err, shared.ErrNoAuthInfo)
	})

	t.Run("ClientCallback Returns Token Without Session", func(t *testing.T) {
		h := newHarness(t)
		start(t, h, "home.example")

		token, err := h.flow.ClientCallback(ctx, CallbackRequest{Domain: "home.example", Code: tu.GoodCode})
		require.NoError(t, err)
		assert.Equal(t, h.fake.AccessToken(), token)
	})
}

func TestAuthFlowLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("Revokes And Drops", func(t *testing.T) {
		h := newHarness(t)
		session := h.login(t, "home.example")

		require.NoError(t, h.flow.Logout(ctx, session.Token))
		assert.Equal(t, 1, h.fake.Calls(http.MethodPost, "/oauth/revoke"))
		assert.Equal(t, h.fake.AccessToken(), h.fake.LastForm(http.MethodPost, "/oauth/revoke").Get("token"))

		gone, err := h.store.Sessions().Get(ctx, session.Token)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("Revoke Failure Still Drops", func(t *testing.T) {
		h := newHarness(t)
		session := h.login(t, "home.example")
		h.fake.SetStatus(tu.RouteRevoke, http.StatusInternalServerError)

		require.NoError(t, h.flow.Logout(ctx, session.Token))

		gone, err := h.store.Sessions().Get(ctx, session.Token)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("Factory Failure Keeps Session", func(t *testing.T) {
		h := newHarness(t)
		session := h.login(t, "home.example")
		h.fake.SetInstanceBody("blocked by edge")

		err := h.flow.Logout(ctx, session.Token)
		assert.ErrorIs(t, err, shared.ErrNotMastodon)

		kept, err := h.store.Sessions().Get(ctx, session.Token)
		require.NoError(t, err)
		assert.NotNil(t, kept)
	})

	t.Run("No Session", func(t *testing.T) {
		h := newHarness(t)
		assert.ErrorIs(t, h.flow.Logout(ctx, ""), shared.ErrNoAuthInfo)
		assert.ErrorIs(t, h.flow.Logout(ctx, "urn:uuid:gone"), shared.ErrNoAuthInfo)
	})

	t.Run("ClientLogout", func(t *testing.T) {
		h := newHarness(t)
		h.login(t, "home.example")

		require.NoError(t, h.flow.ClientLogout(ctx, h.fake.AccessToken(), "home.example"))
		assert.Equal(t, 1, h.fake.Calls(http.MethodPost, "/oauth/revoke"))

		err := h.flow.ClientLogout(ctx, "tok", "never.example")
		assert.ErrorIs(t, err, shared.ErrNoAuthInfo)
		assert.ErrorContains(t, err, "no host config found for never.example")
	})

	t.Run("ClientLogout Revoke Failure", func(t *testing.T) {
		h := newHarness(t)
		h.login(t, "home.example")
		h.fake.SetStatus(tu.RouteRevoke, http.StatusInternalServerError)

		err := h.flow.ClientLogout(ctx, h.fake.AccessToken(), "home.example")
		assert.ErrorIs(t, err, shared.ErrAPIRequest)
		assert.Equal(t, 1, h.fake.Calls(http.MethodPost, "/oauth/revoke"))
	})
}
