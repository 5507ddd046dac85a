package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Session and trust errors
	ErrNoAuthInfo  = fmt.Errorf("no auth info")
	ErrNotMastodon = fmt.Errorf("host does not speak the Mastodon API")
	ErrBadHost     = fmt.Errorf("remote host unreachable")
	ErrNotAllowed  = fmt.Errorf("host not allowed")
	ErrNoDomain    = fmt.Errorf("%w: no domain given", ErrBadHost)

	// Remote API errors. Every member wraps [ErrAPIRequest].
	ErrAPIRequest      = fmt.Errorf("API request failed")
	ErrIllegalArgument = fmt.Errorf("%w: illegal argument", ErrAPIRequest)
	ErrUnauthorized    = fmt.Errorf("%w: unauthorized", ErrAPIRequest)
	ErrNotFound        = fmt.Errorf("%w: not found", ErrAPIRequest)
	ErrInternalServer  = fmt.Errorf("%w: internal server error", ErrAPIRequest)

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
