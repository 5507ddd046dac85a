package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/acbeers/mastodonlm/internal/models"
	"github.com/acbeers/mastodonlm/internal/tasks"
)

// LoginResult is the outcome of a local login callback.
type LoginResult struct {
	Session *models.Session
	err     error
}

func (l *LoginResult) Error() error {
	return l.err
}

// CompleteFunc finishes a login from a callback's domain and code. [tasks.AuthFlow.Callback] satisfies it.
type CompleteFunc func(ctx context.Context, req tasks.CallbackRequest) (*models.Session, error)

// LoginHandler receives the remote host's redirect during a command-line login.
// Implements the Handler interface for registration with a Router.
type LoginHandler struct {
	complete    CompleteFunc
	origin      string
	resultChan  chan LoginResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewLoginHandler creates a handler that completes the login with complete. origin must match the origin the login was
// started with, so that the redirect URI sent with the code exchange is the one the host issued the code for.
func NewLoginHandler(complete CompleteFunc, origin string) *LoginHandler {
	return &LoginHandler{
		complete:   complete,
		origin:     origin,
		resultChan: make(chan LoginResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *LoginHandler) Routes() []string {
	return []string{"/callback"}
}

// ServeHTTP handles the redirect from the remote host. Only the first request is processed.
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		err := fmt.Errorf("authorization failed: %s - %s", q.Get("error"), q.Get("error_description"))
		h.Send(LoginResult{err: err})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	session, err := h.complete(r.Context(), tasks.CallbackRequest{
		Domain: q.Get("domain"),
		Code:   code,
		Origin: h.origin,
	})
	if err != nil {
		h.Send(LoginResult{err: fmt.Errorf("login failed: %w", err)})
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	h.Send(LoginResult{Session: session})

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Logged in to %s</title></head>
<body>
    <h1>Logged in to %s</h1>
    <p>You can close this window and return to the terminal.</p>
</body>
</html>
`, session.Host, session.Host)
}

// Send sends the login result through the channel (only once).
func (h *LoginHandler) Send(result LoginResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving login completion.
//
// Channel will receive exactly one result and then be closed.
func (h *LoginHandler) Result() <-chan LoginResult {
	return h.resultChan
}
