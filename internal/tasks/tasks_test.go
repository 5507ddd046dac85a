package tasks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/repositories"
	"github.com/acbeers/mastodonlm/internal/services"
	"github.com/acbeers/mastodonlm/internal/shared"
	tu "github.com/acbeers/mastodonlm/internal/testing"
	"github.com/stretchr/testify/require"
)

// harness wires an [AuthFlow] to an in-memory store and a fake Mastodon host that answers for every domain.
type harness struct {
	fake    *tu.FakeMastodon
	store   models.Store
	factory *services.ClientFactory
	trust   *HostTrust
	flow    *AuthFlow
	lists   *ListManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := tu.NewFakeMastodon(t)
	return newHarnessWith(t, fake, services.FactoryOptions{BaseURL: fake.BaseURL})
}

func newHarnessWith(t *testing.T, fake *tu.FakeMastodon, opts services.FactoryOptions) *harness {
	t.Helper()

	db, err := shared.NewDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, shared.RunMigrations(context.Background(), db))
	store := repositories.NewSQLStore(db, 0)
	t.Cleanup(func() { store.Close() })

	logger := shared.NewLogger(io.Discard)
	opts.Logger = logger
	opts.Timeout = 5 * time.Second

	factory := services.NewClientFactory(store.Sessions(), store.HostConfigs(), opts)
	registry := services.NewAppRegistry(store.HostConfigs(), factory, "Mastodon List Manager", "")
	trust := NewHostTrust(store.Trust(), 1000, logger)

	flow := NewAuthFlow(store, trust, registry, factory, AuthFlowOptions{
		RedirectBase: "https://lists.example",
		DevOrigin:    "http://localhost:3000",
	}, logger)

	return &harness{
		fake:    fake,
		store:   store,
		factory: factory,
		trust:   trust,
		flow:    flow,
		lists:   NewListManager(factory, logger),
	}
}

// login stores a registration and a session for host whose token the fake accepts.
func (h *harness) login(t *testing.T, host string) *models.Session {
	t.Helper()
	ctx := context.Background()

	tu.RegisterHost(t, h.store.HostConfigs(), host)
	session, err := h.store.Sessions().Create(ctx, host, h.fake.AccessToken())
	require.NoError(t, err)
	return session
}

// failingTrust fails PutBlockedHost after a number of writes.
type failingTrust struct {
	models.TrustRepository
	okWrites int
	deletes  int
}

func (f *failingTrust) PutBlockedHost(ctx context.Context, b models.BlockedHost) error {
	if f.okWrites == 0 {
		return errors.New("provisioned throughput exceeded")
	}
	f.okWrites--
	return f.TrustRepository.PutBlockedHost(ctx, b)
}

func (f *failingTrust) DeleteBlockedExcept(ctx context.Context, batch string) (int, error) {
	f.deletes++
	return f.TrustRepository.DeleteBlockedExcept(ctx, batch)
}

func unreachable() services.FactoryOptions {
	return services.FactoryOptions{
		HTTPClient: &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("dial tcp: lookup nowhere.invalid: no such host"))},
	}
}
