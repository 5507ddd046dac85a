package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/acbeers/mastodonlm/internal/shared"
	"golang.org/x/oauth2"
)

// APIError is a non-2xx answer from a remote host. It unwraps to one member of the [shared.ErrAPIRequest] family.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("remote API returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the HTTP status onto the error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest, e.StatusCode == http.StatusUnprocessableEntity:
		return shared.ErrIllegalArgument
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return shared.ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return shared.ErrNotFound
	case e.StatusCode >= 500:
		return shared.ErrInternalServer
	default:
		return shared.ErrAPIRequest
	}
}

// BadHostError reports a host that could not be reached, carrying the domain as the user typed it.
type BadHostError struct {
	Domain string
	Err    error
}

func (e *BadHostError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Domain)
}

func (e *BadHostError) Unwrap() error {
	return e.Err
}

// transportError wraps a failure to reach host at all (DNS, TLS, refused, timeout).
func transportError(host string, err error) error {
	return fmt.Errorf("%w: %s: %v", shared.ErrBadHost, host, err)
}

// tokenError classifies a failed authorization-code exchange.
func tokenError(host string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return transportError(host, err)
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}

	switch re.ErrorCode {
	case "invalid_grant", "invalid_request", "invalid_client", "invalid_scope", "unauthorized_client":
		return fmt.Errorf("%w: %s", shared.ErrIllegalArgument, re.ErrorCode)
	}

	switch {
	case status == http.StatusBadRequest, status == http.StatusUnauthorized:
		return fmt.Errorf("%w: token exchange rejected", shared.ErrIllegalArgument)
	default:
		return &APIError{StatusCode: status, Message: re.ErrorDescription}
	}
}
