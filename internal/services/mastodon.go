package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/acbeers/mastodonlm/internal/models"
	"golang.org/x/oauth2"
)

// followingPageSize is the largest page Mastodon serves for follows.
const followingPageSize = 80

var nextLinkRe = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="next"`)

// userAgentTransport stamps every outgoing request with a recognizable client identifier.
type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(r)
}

// MastodonService is a client bound to one remote host. Instances returned by [ClientFactory] have passed the instance probe.
type MastodonService struct {
	host        string
	baseURL     string
	httpClient  *http.Client
	config      *oauth2.Config
	accessToken string
	instance    *Instance
}

func newMastodonService(host, baseURL string, client *http.Client, clientID, clientSecret, accessToken string) *MastodonService {
	baseURL = strings.TrimRight(baseURL, "/")
	return &MastodonService{
		host:        host,
		baseURL:     baseURL,
		httpClient:  client,
		accessToken: accessToken,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       models.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   baseURL + "/oauth/authorize",
				TokenURL:  baseURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// Host returns the remote host this client is bound to.
func (s *MastodonService) Host() string {
	return s.host
}

// Instance returns the probe result, or nil for a client that was never probed.
func (s *MastodonService) Instance() *Instance {
	return s.instance
}

// VerifyCredentials returns the account that owns the bearer token.
func (s *MastodonService) VerifyCredentials(ctx context.Context) (*models.Account, error) {
	var account models.Account
	if _, err := s.do(ctx, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Lists returns every list owned by the authenticated account.
func (s *MastodonService) Lists(ctx context.Context) ([]models.List, error) {
	var lists []models.List
	if _, err := s.do(ctx, http.MethodGet, "/api/v1/lists", nil, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// CreateList creates a list with title.
func (s *MastodonService) CreateList(ctx context.Context, title string) (*models.List, error) {
	var list models.List
	if _, err := s.do(ctx, http.MethodPost, "/api/v1/lists", url.Values{"title": {title}}, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// DeleteList deletes list id.
func (s *MastodonService) DeleteList(ctx context.Context, id string) error {
	_, err := s.do(ctx, http.MethodDelete, "/api/v1/lists/"+url.PathEscape(id), nil, nil)
	return err
}

// ListAccounts returns every member of list id. limit=0 asks Mastodon for all members at once.
func (s *MastodonService) ListAccounts(ctx context.Context, id string) ([]models.Account, error) {
	return s.paged(ctx, "/api/v1/lists/"+url.PathEscape(id)+"/accounts?limit=0")
}

// AddAccountsToList adds accounts to list id. Mastodon requires the caller to follow each account.
func (s *MastodonService) AddAccountsToList(ctx context.Context, id string, accountIDs []string) error {
	_, err := s.do(ctx, http.MethodPost, "/api/v1/lists/"+url.PathEscape(id)+"/accounts", url.Values{"account_ids[]": accountIDs}, nil)
	return err
}

// RemoveAccountsFromList removes accounts from list id.
func (s *MastodonService) RemoveAccountsFromList(ctx context.Context, id string, accountIDs []string) error {
	path := "/api/v1/lists/" + url.PathEscape(id) + "/accounts?" + url.Values{"account_ids[]": accountIDs}.Encode()
	_, err := s.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// Following returns every account that accountID follows, walking Link rel="next" pages until none is left.
func (s *MastodonService) Following(ctx context.Context, accountID string) ([]models.Account, error) {
	return s.paged(ctx, fmt.Sprintf("/api/v1/accounts/%s/following?limit=%d", url.PathEscape(accountID), followingPageSize))
}

func (s *MastodonService) paged(ctx context.Context, path string) ([]models.Account, error) {
	var all []models.Account
	target := s.baseURL + path

	for target != "" {
		var page []models.Account
		header, err := s.doURL(ctx, http.MethodGet, target, nil, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		target = nextLink(header.Get("Link"))
	}

	return all, nil
}

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
func nextLink(link string) string {
	if m := nextLinkRe.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return ""
}

func (s *MastodonService) do(ctx context.Context, method, path string, form url.Values, out any) (http.Header, error) {
	return s.doURL(ctx, method, s.baseURL+path, form, out)
}

// doURL sends one request. Forms are url-encoded; a bearer token is attached when the client has one.
func (s *MastodonService) doURL(ctx context.Context, method, target string, form url.Values, out any) (http.Header, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError(s.host, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(s.host, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.Header, &APIError{StatusCode: resp.StatusCode, Message: "failed to decode response: " + err.Error()}
		}
	}

	return resp.Header, nil
}

// errorMessage pulls Mastodon's {"error": "..."} text out of a failed response.
func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return strings.TrimSpace(string(data))
}
