package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/acbeers/mastodonlm/internal/services"
	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/acbeers/mastodonlm/internal/tasks"
	"github.com/charmbracelet/log"
)

const (
	statusOK            = "OK"
	statusBadHost       = "bad_host"
	statusNotAllowed    = "not_allowed"
	statusBlocked       = "blocked"
	statusNoCookie      = "no_cookie"
	statusNotAuthorized = "not_authorized"

	errNoHostConfig   = "ERROR - no host config"
	errIllegal        = "ERROR - illegal argument"
	errInternalServer = "ERROR - internal server error"
	errNotFound       = "ERROR - not found"
	errUnauthorized   = "ERROR - unauthorized"
	errAPI            = "ERROR - API error"
)

// API maps requests onto the auth flow and the list manager. Each method is an [EventFunc].
type API struct {
	flow    *tasks.AuthFlow
	lists   *tasks.ListManager
	metrics *Metrics
	logger  *log.Logger
}

// NewAPI creates an [API]. metrics may be nil.
func NewAPI(flow *tasks.AuthFlow, lists *tasks.ListManager, metrics *Metrics, logger *log.Logger) *API {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &API{flow: flow, lists: lists, metrics: metrics, logger: logger}
}

// Register mounts every endpoint on r.
func (a *API) Register(r *BasicRouter) {
	routes := []struct {
		method string
		path   string
		fn     EventFunc
	}{
		{http.MethodGet, "/auth", a.Auth},
		{http.MethodGet, "/callback", a.Callback},
		{http.MethodPost, "/logout", a.Logout},
		{http.MethodGet, "/client/callback", a.ClientCallback},
		{http.MethodPost, "/client/logout", a.ClientLogout},
		{http.MethodGet, "/meta", a.Meta},
		{http.MethodGet, "/following", a.Following},
		{http.MethodGet, "/lists", a.Lists},
		{http.MethodPost, "/add", a.Add},
		{http.MethodPost, "/remove", a.Remove},
		{http.MethodPost, "/create", a.Create},
		{http.MethodPost, "/delete", a.Delete},
	}
	for _, rt := range routes {
		r.Handle(rt.method, rt.path, Adapt(rt.fn, a.logger))
	}
}

// Auth starts a login, or reports that the presented session is still good.
func (a *API) Auth(ctx context.Context, e Event) Response {
	res, err := a.flow.Start(ctx, tasks.StartRequest{
		SessionToken: e.SessionToken(),
		Domain:       e.Query("domain"),
		Origin:       e.Header("origin"),
	})
	if err != nil {
		return a.authFailure(err)
	}

	if res.AlreadyAuthenticated {
		a.metrics.AuthOutcome("auth", "already_authenticated")
		return statusResponse(http.StatusOK, statusOK)
	}

	a.metrics.AuthOutcome("auth", "redirect")
	return jsonResponse(http.StatusOK, map[string]string{"url": res.URL})
}

func (a *API) authFailure(err error) Response {
	var bad *services.BadHostError
	switch {
	case errors.Is(err, shared.ErrNoDomain):
		a.metrics.AuthOutcome("auth", statusBadHost)
		return badHostResponse(http.StatusOK, "")
	case errors.Is(err, shared.ErrNotAllowed):
		a.metrics.AuthOutcome("auth", statusNotAllowed)
		return statusResponse(http.StatusOK, statusNotAllowed)
	case errors.Is(err, shared.ErrNotMastodon):
		a.metrics.AuthOutcome("auth", statusBlocked)
		return statusResponse(http.StatusInternalServerError, statusBlocked)
	case errors.As(err, &bad):
		a.metrics.AuthOutcome("auth", statusBadHost)
		return badHostResponse(http.StatusInternalServerError, bad.Domain)
	case errors.Is(err, shared.ErrAPIRequest):
		a.logger.Error("auth: remote API error", "error", err)
		a.metrics.AuthOutcome("auth", "api_error")
		return statusResponse(http.StatusInternalServerError, errAPI)
	default:
		a.logger.Error("auth: internal error", "error", err)
		a.metrics.AuthOutcome("auth", "internal_error")
		return statusResponse(http.StatusInternalServerError, errInternalServer)
	}
}

// Callback completes a login and hands back a new session token.
func (a *API) Callback(ctx context.Context, e Event) Response {
	session, err := a.flow.Callback(ctx, callbackRequest(e))
	if err != nil {
		return a.callbackFailure("callback", err)
	}

	a.metrics.AuthOutcome("callback", "session_created")
	return jsonResponse(http.StatusOK, map[string]string{"status": statusOK, "auth": session.Token})
}

// ClientCallback completes a login for a client that keeps the bearer token itself.
func (a *API) ClientCallback(ctx context.Context, e Event) Response {
	token, err := a.flow.ClientCallback(ctx, callbackRequest(e))
	if err != nil {
		return a.callbackFailure("client_callback", err)
	}

	a.metrics.AuthOutcome("client_callback", "token_issued")
	return jsonResponse(http.StatusOK, map[string]string{"status": statusOK, "token": token})
}

func callbackRequest(e Event) tasks.CallbackRequest {
	return tasks.CallbackRequest{
		Domain: e.Query("domain"),
		Code:   e.Query("code"),
		Origin: e.Header("origin"),
	}
}

func (a *API) callbackFailure(stage string, err error) Response {
	var bad *services.BadHostError
	switch {
	case errors.Is(err, shared.ErrNoAuthInfo):
		a.metrics.AuthOutcome(stage, "no_host_config")
		return statusResponse(http.StatusInternalServerError, errNoHostConfig)
	case errors.Is(err, shared.ErrIllegalArgument):
		a.metrics.AuthOutcome(stage, "illegal_argument")
		return statusResponse(http.StatusInternalServerError, errIllegal)
	case errors.As(err, &bad):
		a.metrics.AuthOutcome(stage, statusBadHost)
		return badHostResponse(http.StatusInternalServerError, bad.Domain)
	case errors.Is(err, shared.ErrAPIRequest):
		a.logger.Error(stage+": remote API error", "error", err)
		a.metrics.AuthOutcome(stage, "api_error")
		return statusResponse(http.StatusInternalServerError, errAPI)
	default:
		a.logger.Error(stage+": internal error", "error", err)
		a.metrics.AuthOutcome(stage, "internal_error")
		return statusResponse(http.StatusInternalServerError, errInternalServer)
	}
}

// Logout revokes the session's token and drops the session.
func (a *API) Logout(ctx context.Context, e Event) Response {
	token := e.SessionToken()
	if token == "" {
		return statusResponse(http.StatusForbidden, statusNoCookie)
	}

	if err := a.flow.Logout(ctx, token); err != nil {
		switch {
		case errors.Is(err, shared.ErrNoAuthInfo):
			a.metrics.AuthOutcome("logout", statusNoCookie)
			return statusResponse(http.StatusForbidden, statusNoCookie)
		case errors.Is(err, shared.ErrNotMastodon):
			a.metrics.AuthOutcome("logout", statusBlocked)
			return statusResponse(http.StatusInternalServerError, statusBlocked)
		case errors.Is(err, shared.ErrBadHost):
			a.metrics.AuthOutcome("logout", statusBadHost)
			return statusResponse(http.StatusInternalServerError, statusBadHost)
		default:
			a.logger.Error("logout failed", "error", err)
			a.metrics.AuthOutcome("logout", "internal_error")
			return statusResponse(http.StatusInternalServerError, errInternalServer)
		}
	}

	a.metrics.AuthOutcome("logout", "ok")
	return statusResponse(http.StatusOK, statusOK)
}

// clientLogoutBody is the JSON body of a client-side logout.
type clientLogoutBody struct {
	Token  string `json:"token"`
	Domain string `json:"domain"`
}

// ClientLogout revokes a bearer token the client kept for itself.
func (a *API) ClientLogout(ctx context.Context, e Event) Response {
	var body clientLogoutBody
	if err := json.Unmarshal([]byte(e.Body), &body); err != nil || body.Token == "" || body.Domain == "" {
		return statusResponse(http.StatusInternalServerError, errIllegal)
	}

	if err := a.flow.ClientLogout(ctx, body.Token, body.Domain); err != nil {
		switch {
		case errors.Is(err, shared.ErrNoAuthInfo):
			return statusResponse(http.StatusInternalServerError, fmt.Sprintf("ERROR no host config found for %s", body.Domain))
		case errors.Is(err, shared.ErrNotMastodon):
			return statusResponse(http.StatusInternalServerError, statusBlocked)
		case errors.Is(err, shared.ErrBadHost):
			return badHostResponse(http.StatusInternalServerError, body.Domain)
		case errors.Is(err, shared.ErrAPIRequest):
			a.metrics.AuthOutcome("client_logout", "api_error")
			return statusResponse(http.StatusInternalServerError, errAPI)
		default:
			a.logger.Error("client logout failed", "error", err)
			return statusResponse(http.StatusInternalServerError, errInternalServer)
		}
	}

	a.metrics.AuthOutcome("client_logout", "ok")
	return statusResponse(http.StatusOK, statusOK)
}

// Meta returns the caller's account and lists.
func (a *API) Meta(ctx context.Context, e Event) Response {
	return a.withList(ctx, e, false, func(ls *tasks.ListSession) Response {
		meta, err := ls.Meta(ctx)
		if err != nil {
			return a.actionFailure("meta", err)
		}
		return jsonResponse(http.StatusOK, meta)
	})
}

// Following returns every account the caller follows.
func (a *API) Following(ctx context.Context, e Event) Response {
	return a.withList(ctx, e, false, func(ls *tasks.ListSession) Response {
		accounts, err := ls.Following(ctx)
		if err != nil {
			return a.actionFailure("following", err)
		}
		a.logger.Info("returning followers", "count", len(accounts))
		return jsonResponse(http.StatusOK, accounts)
	})
}

// Lists returns the members of every list, keyed by list id.
func (a *API) Lists(ctx context.Context, e Event) Response {
	return a.withList(ctx, e, false, func(ls *tasks.ListSession) Response {
		memberships, err := ls.Memberships(ctx)
		if err != nil {
			return a.actionFailure("lists", err)
		}
		return jsonResponse(http.StatusOK, memberships)
	})
}

// Add puts account_id on list_id.
func (a *API) Add(ctx context.Context, e Event) Response {
	return a.withList(ctx, e, true, func(ls *tasks.ListSession) Response {
		return a.done("add", ls.Add(ctx, e.Query("list_id"), e.Query("account_id")))
	})
}

// Remove takes account_id off list_id.
func (a *API) Remove(ctx context.Context, e Event) Response {
	return a.withList(ctx, e, true, func(ls *tasks.ListSession) Response {
		return a.done("remove", ls.Remove(ctx, e.Query("list_id"), e.Query("account_id")))
	})
}

// Create makes a list called list_name.
func (a *API) Create(ctx context.Context, e Event) Response {
	return a.withList(ctx, e, true, func(ls *tasks.ListSession) Response {
		_, err := ls.Create(ctx, e.Query("list_name"))
		return a.done("create", err)
	})
}

// Delete removes list_id.
func (a *API) Delete(ctx context.Context, e Event) Response {
	return a.withList(ctx, e, true, func(ls *tasks.ListSession) Response {
		return a.done("delete", ls.Delete(ctx, e.Query("list_id")))
	})
}

// withList connects the session and runs fn. Setup failures on writes report not_authorized instead of no_cookie.
func (a *API) withList(ctx context.Context, e Event, write bool, fn func(*tasks.ListSession) Response) Response {
	token := e.SessionToken()
	if token == "" {
		return statusResponse(http.StatusForbidden, statusNoCookie)
	}

	ls, err := a.lists.Connect(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNoAuthInfo), errors.Is(err, shared.ErrUnauthorized):
			if write {
				return statusResponse(http.StatusForbidden, statusNotAuthorized)
			}
			return statusResponse(http.StatusForbidden, statusNoCookie)
		case errors.Is(err, shared.ErrNotMastodon):
			return statusResponse(http.StatusInternalServerError, statusBlocked)
		case errors.Is(err, shared.ErrIllegalArgument):
			return statusResponse(http.StatusInternalServerError, errIllegal)
		case errors.Is(err, shared.ErrInternalServer):
			return statusResponse(http.StatusInternalServerError, errInternalServer)
		case errors.Is(err, shared.ErrBadHost):
			return statusResponse(http.StatusInternalServerError, statusBadHost)
		case errors.Is(err, shared.ErrAPIRequest):
			return statusResponse(http.StatusInternalServerError, errAPI)
		default:
			a.logger.Error("list session setup failed", "error", err)
			return statusResponse(http.StatusInternalServerError, errInternalServer)
		}
	}

	return fn(ls)
}

func (a *API) done(action string, err error) Response {
	if err != nil {
		return a.actionFailure(action, err)
	}
	return statusResponse(http.StatusOK, statusOK)
}

func (a *API) actionFailure(action string, err error) Response {
	msg := errAPI
	switch {
	case errors.Is(err, shared.ErrMissingArgument), errors.Is(err, shared.ErrIllegalArgument):
		msg = errIllegal
	case errors.Is(err, shared.ErrNotFound):
		msg = errNotFound
	case errors.Is(err, shared.ErrUnauthorized):
		msg = errUnauthorized
	case errors.Is(err, shared.ErrBadHost):
		msg = statusBadHost
	case !errors.Is(err, shared.ErrAPIRequest):
		msg = errInternalServer
	}
	a.logger.Error(strings.TrimPrefix(msg, "ERROR - "), "action", action, "error", err)
	return statusResponse(http.StatusInternalServerError, msg)
}

func badHostResponse(code int, domain string) Response {
	return jsonResponse(code, map[string]string{"status": statusBadHost, "domain": domain})
}
