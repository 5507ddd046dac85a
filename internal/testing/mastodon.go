package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/acbeers/mastodonlm/internal/models"
)

// Route names accepted by [FakeMastodon.SetStatus].
const (
	RouteApps     = "apps"
	RouteInstance = "instance"
	RouteToken    = "token"
	RouteRevoke   = "revoke"
	RouteVerify   = "verify"
	RouteLists    = "lists"
	RouteFollow   = "following"
)

// GoodCode is the only authorization code the fake token endpoint accepts.
const GoodCode = "good-code"

// RegisterHost stores a client registration for host. An existing registration is left in place.
func RegisterHost(t *testing.T, repo models.HostConfigRepository, host string) {
	t.Helper()
	if _, err := repo.Create(context.Background(), &models.HostConfig{Host: host, ClientID: "c", ClientSecret: "s"}); err != nil {
		t.Fatalf("failed to register %s: %v", host, err)
	}
}

// FakeMastodon is an httptest server speaking the subset of the Mastodon REST API the backend uses.
//
// Every request is counted by "METHOD /path" and its User-Agent recorded. Status overrides set with
// [FakeMastodon.SetStatus] make a route fail with that code.
type FakeMastodon struct {
	*httptest.Server

	mu          sync.Mutex
	calls       map[string]int
	forms       map[string]url.Values
	userAgents  []string
	statuses    map[string]int
	instance    string
	accessToken string
	apps        int
	clients     map[string]string
	lists       map[string]*models.List
	members     map[string][]string
	following   []models.Account
	pageSize    int
	nextListID  int
}

// NewFakeMastodon starts a fake server that is closed when the test ends.
func NewFakeMastodon(t *testing.T) *FakeMastodon {
	t.Helper()

	f := &FakeMastodon{
		calls:       make(map[string]int),
		forms:       make(map[string]url.Values),
		statuses:    make(map[string]int),
		instance:    `{"uri":"fake.example","title":"Fake","version":"4.2.1"}`,
		accessToken: "access-token-1",
		clients:     make(map[string]string),
		lists:       make(map[string]*models.List),
		members:     make(map[string][]string),
		pageSize:    2,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/apps", f.handleApps)
	mux.HandleFunc("GET /api/v1/instance", f.handleInstance)
	mux.HandleFunc("GET /oauth/authorize", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("POST /oauth/token", f.handleToken)
	mux.HandleFunc("POST /oauth/revoke", f.handleRevoke)
	mux.HandleFunc("GET /api/v1/accounts/verify_credentials", f.handleVerify)
	mux.HandleFunc("GET /api/v1/accounts/{id}/following", f.handleFollowing)
	mux.HandleFunc("GET /api/v1/lists", f.handleLists)
	mux.HandleFunc("POST /api/v1/lists", f.handleCreateList)
	mux.HandleFunc("DELETE /api/v1/lists/{id}", f.handleDeleteList)
	mux.HandleFunc("GET /api/v1/lists/{id}/accounts", f.handleListAccounts)
	mux.HandleFunc("POST /api/v1/lists/{id}/accounts", f.handleListMembers)
	mux.HandleFunc("DELETE /api/v1/lists/{id}/accounts", f.handleListMembers)

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.Method+" "+r.URL.Path]++
		f.userAgents = append(f.userAgents, r.UserAgent())
		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			if err := r.ParseForm(); err == nil {
				f.forms[r.Method+" "+r.URL.Path] = r.PostForm
			}
		}
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)

	return f
}

// BaseURL ignores host and points every host at the fake server.
func (f *FakeMastodon) BaseURL(string) string {
	return f.URL
}

// Calls returns how many requests hit method and path.
func (f *FakeMastodon) Calls(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+path]
}

// TotalCalls returns the number of requests served.
func (f *FakeMastodon) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// LastForm returns the form of the last POST or DELETE to path.
func (f *FakeMastodon) LastForm(method, path string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[method+" "+path]
}

// UserAgents returns the User-Agent of every request so far.
func (f *FakeMastodon) UserAgents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.userAgents...)
}

// SetStatus makes route answer with code. Zero restores normal behavior.
func (f *FakeMastodon) SetStatus(route string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[route] = code
}

// SetInstanceBody replaces the /api/v1/instance payload.
func (f *FakeMastodon) SetInstanceBody(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instance = body
}

// AccessToken is the bearer token issued for [GoodCode].
func (f *FakeMastodon) AccessToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessToken
}

// SetFollowing replaces the accounts returned by the following endpoint.
func (f *FakeMastodon) SetFollowing(accounts []models.Account, pageSize int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.following = accounts
	if pageSize > 0 {
		f.pageSize = pageSize
	}
}

// AddList seeds a remote list with members.
func (f *FakeMastodon) AddList(id, title string, members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[id] = &models.List{ID: id, Title: title}
	f.members[id] = members
}

// Members returns the account ids of list id.
func (f *FakeMastodon) Members(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.members[id]...)
}

func (f *FakeMastodon) override(w http.ResponseWriter, route string) bool {
	f.mu.Lock()
	code := f.statuses[route]
	f.mu.Unlock()
	if code == 0 {
		return false
	}
	writeJSON(w, code, map[string]string{"error": http.StatusText(code)})
	return true
}

func (f *FakeMastodon) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+f.AccessToken() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "The access token is invalid"})
		return false
	}
	return true
}

func (f *FakeMastodon) handleApps(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteApps) {
		return
	}

	f.mu.Lock()
	f.apps++
	n := f.apps
	id := fmt.Sprintf("client-%d", n)
	secret := fmt.Sprintf("secret-%d", n)
	f.clients[id] = secret
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"id":            strconv.Itoa(n),
		"name":          r.PostForm.Get("client_name"),
		"redirect_uri":  r.PostForm.Get("redirect_uris"),
		"client_id":     id,
		"client_secret": secret,
	})
}

func (f *FakeMastodon) handleInstance(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteInstance) {
		return
	}
	f.mu.Lock()
	body := f.instance
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (f *FakeMastodon) handleToken(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteToken) {
		return
	}

	f.mu.Lock()
	_, known := f.clients[r.PostForm.Get("client_id")]
	f.mu.Unlock()

	if !known {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != GoodCode {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "The provided authorization grant is invalid",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": f.AccessToken(),
		"token_type":   "Bearer",
		"scope":        r.PostForm.Get("scope"),
		"created_at":   1700000000,
	})
}

func (f *FakeMastodon) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteRevoke) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (f *FakeMastodon) handleVerify(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteVerify) || !f.authorized(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, models.Account{ID: "1", Username: "me", Acct: "me", DisplayName: "Me"})
}

func (f *FakeMastodon) handleFollowing(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteFollow) || !f.authorized(w, r) {
		return
	}

	f.mu.Lock()
	accounts := f.following
	size := f.pageSize
	f.mu.Unlock()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	start := page * size
	if start > len(accounts) {
		start = len(accounts)
	}
	end := min(start+size, len(accounts))

	if end < len(accounts) {
		next := fmt.Sprintf("%s%s?page=%d", f.URL, r.URL.Path, page+1)
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next", <%s%s>; rel="prev"`, next, f.URL, r.URL.Path))
	}
	writeJSON(w, http.StatusOK, accounts[start:end])
}

func (f *FakeMastodon) handleLists(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteLists) || !f.authorized(w, r) {
		return
	}

	f.mu.Lock()
	lists := make([]models.List, 0, len(f.lists))
	for _, l := range f.lists {
		lists = append(lists, *l)
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, lists)
}

func (f *FakeMastodon) handleCreateList(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteLists) || !f.authorized(w, r) {
		return
	}

	title := strings.TrimSpace(r.PostForm.Get("title"))
	if title == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "Validation failed: Title can't be blank"})
		return
	}

	f.mu.Lock()
	f.nextListID++
	list := &models.List{ID: fmt.Sprintf("list-%d", f.nextListID), Title: title, RepliesPolicy: "list"}
	f.lists[list.ID] = list
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, list)
}

func (f *FakeMastodon) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteLists) || !f.authorized(w, r) {
		return
	}

	id := r.PathValue("id")
	f.mu.Lock()
	_, ok := f.lists[id]
	delete(f.lists, id)
	delete(f.members, id)
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Record not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (f *FakeMastodon) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteLists) || !f.authorized(w, r) {
		return
	}

	id := r.PathValue("id")
	f.mu.Lock()
	_, ok := f.lists[id]
	ids := f.members[id]
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Record not found"})
		return
	}

	accounts := make([]models.Account, 0, len(ids))
	for _, aid := range ids {
		accounts = append(accounts, models.Account{ID: aid, Username: "user" + aid, Acct: "user" + aid})
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (f *FakeMastodon) handleListMembers(w http.ResponseWriter, r *http.Request) {
	if f.override(w, RouteLists) || !f.authorized(w, r) {
		return
	}

	id := r.PathValue("id")
	ids := r.PostForm["account_ids[]"]
	if r.Method == http.MethodDelete && len(ids) == 0 {
		// net/http does not parse DELETE bodies into PostForm
		ids = r.URL.Query()["account_ids[]"]
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.lists[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Record not found"})
		return
	}

	switch r.Method {
	case http.MethodPost:
		f.members[id] = append(f.members[id], ids...)
	case http.MethodDelete:
		drop := make(map[string]bool, len(ids))
		for _, aid := range ids {
			drop[aid] = true
		}
		kept := f.members[id][:0]
		for _, aid := range f.members[id] {
			if !drop[aid] {
				kept = append(kept, aid)
			}
		}
		f.members[id] = kept
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
