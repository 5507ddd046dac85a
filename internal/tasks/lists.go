package tasks

import (
	"context"
	"fmt"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/services"
	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/charmbracelet/log"
)

// ListManager serves list operations for an authenticated session.
type ListManager struct {
	factory services.Factory
	logger  *log.Logger
}

// NewListManager creates a [ListManager].
func NewListManager(factory services.Factory, logger *log.Logger) *ListManager {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &ListManager{factory: factory, logger: logger}
}

// ListSession is a verified client plus the account it acts as.
type ListSession struct {
	client *services.MastodonService
	me     *models.Account
	logger *log.Logger
}

// Connect builds a probed client for the session token and confirms the token with verify_credentials.
func (m *ListManager) Connect(ctx context.Context, token string) (*ListSession, error) {
	client, err := m.factory.FromSession(ctx, token)
	if err != nil {
		return nil, err
	}

	me, err := client.VerifyCredentials(ctx)
	if err != nil {
		return nil, err
	}

	return &ListSession{client: client, me: me, logger: m.logger}, nil
}

// MetaAccount is the caller's own account, with acct qualified by host.
type MetaAccount struct {
	Username       string `json:"username"`
	Acct           string `json:"acct"`
	DisplayName    string `json:"display_name"`
	FollowingCount int    `json:"following_count"`
}

// Meta drives the client's further fetches.
type Meta struct {
	Me    MetaAccount   `json:"me"`
	Lists []models.List `json:"lists"`
}

// Meta returns the caller's account and lists.
func (s *ListSession) Meta(ctx context.Context) (*Meta, error) {
	lists, err := s.client.Lists(ctx)
	if err != nil {
		return nil, err
	}
	if lists == nil {
		lists = []models.List{}
	}

	return &Meta{
		Me: MetaAccount{
			Username:       s.me.Username,
			Acct:           fmt.Sprintf("%s@%s", s.me.Acct, s.client.Host()),
			DisplayName:    s.me.DisplayName,
			FollowingCount: s.me.FollowingCount,
		},
		Lists: lists,
	}, nil
}

// Following returns every account the caller follows.
func (s *ListSession) Following(ctx context.Context) ([]models.Account, error) {
	s.logger.Info("fetching following", "host", s.client.Host(), "acct", s.me.Acct, "expected", s.me.FollowingCount)

	accounts, err := s.client.Following(ctx, s.me.ID)
	if err != nil {
		return nil, err
	}

	out := make([]models.Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, models.Account{
			ID:          a.ID,
			DisplayName: a.DisplayName,
			Username:    a.Username,
			Acct:        a.Acct,
			Note:        a.Note,
			Avatar:      a.Avatar,
		})
	}
	return out, nil
}

// Memberships maps each list id to the ids of its members.
func (s *ListSession) Memberships(ctx context.Context) (map[string][]string, error) {
	lists, err := s.client.Lists(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(lists))
	for _, l := range lists {
		members, err := s.client.ListAccounts(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.ID)
		}
		out[l.ID] = ids
	}
	return out, nil
}

// Add puts accountID on list listID.
func (s *ListSession) Add(ctx context.Context, listID, accountID string) error {
	if listID == "" || accountID == "" {
		return fmt.Errorf("%w: list_id and account_id", shared.ErrMissingArgument)
	}
	return s.client.AddAccountsToList(ctx, listID, []string{accountID})
}

// Remove takes accountID off list listID.
func (s *ListSession) Remove(ctx context.Context, listID, accountID string) error {
	if listID == "" || accountID == "" {
		return fmt.Errorf("%w: list_id and account_id", shared.ErrMissingArgument)
	}
	return s.client.RemoveAccountsFromList(ctx, listID, []string{accountID})
}

// Create makes a new list called name.
func (s *ListSession) Create(ctx context.Context, name string) (*models.List, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: list_name", shared.ErrMissingArgument)
	}
	return s.client.CreateList(ctx, name)
}

// Delete removes list listID.
func (s *ListSession) Delete(ctx context.Context, listID string) error {
	if listID == "" {
		return fmt.Errorf("%w: list_id", shared.ErrMissingArgument)
	}
	return s.client.DeleteList(ctx, listID)
}
