package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
)

const maxBodyBytes = 1 << 20

// Event is one inbound request in the shape the handlers consume.
type Event struct {
	Headers               map[string]string `json:"headers"`
	QueryStringParameters map[string]string `json:"queryStringParameters"`
	Body                  string            `json:"body"`
}

// Header returns the value of header name, matched case-insensitively.
func (e Event) Header(name string) string {
	if v, ok := e.Headers[name]; ok {
		return v
	}
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Query returns query parameter name, or "" when absent.
func (e Event) Query(name string) string {
	return e.QueryStringParameters[name]
}

// SessionToken is the opaque token carried in the authorization header. Empty means no session.
func (e Event) SessionToken() string {
	return strings.TrimSpace(e.Header("authorization"))
}

// Response is what a handler returns: a status code and a JSON body.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func jsonResponse(code int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return Response{StatusCode: http.StatusInternalServerError, Body: `{"status":"ERROR - internal server error"}`}
	}
	return Response{StatusCode: code, Body: string(body)}
}

func statusResponse(code int, status string) Response {
	return jsonResponse(code, map[string]string{"status": status})
}

// EventFromRequest reads r into an [Event]. Repeated headers and parameters keep their first value.
func EventFromRequest(r *http.Request) (Event, error) {
	e := Event{
		Headers:               make(map[string]string, len(r.Header)),
		QueryStringParameters: make(map[string]string),
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			e.Headers[strings.ToLower(k)] = v[0]
		}
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			e.QueryStringParameters[k] = v[0]
		}
	}

	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return e, fmt.Errorf("failed to read request body: %w", err)
		}
		e.Body = string(body)
	}
	return e, nil
}

// Adapt serves fn over HTTP. Responses with status >= 404 are logged at error level and those >= 400 at info.
func Adapt(fn EventFunc, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e, err := EventFromRequest(r)
		var resp Response
		if err != nil {
			resp = statusResponse(http.StatusBadRequest, "ERROR - illegal argument")
		} else {
			resp = fn(r.Context(), e)
		}

		switch {
		case resp.StatusCode >= 404:
			logger.Error("returning", "path", r.URL.Path, "status", resp.StatusCode, "body", resp.Body)
		case resp.StatusCode >= 400:
			logger.Info("returning", "path", r.URL.Path, "status", resp.StatusCode, "body", resp.Body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		io.WriteString(w, resp.Body)
	})
}
