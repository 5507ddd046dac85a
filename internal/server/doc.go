// Package server puts the list manager's handlers behind HTTP.
//
// # Events
//
// Handlers consume an [Event] (headers, query parameters, body) and return a [Response] (status code, JSON body).
// [Adapt] turns an [EventFunc] into an [http.Handler]; header names are matched case-insensitively and the session
// token is the raw value of the authorization header.
//
// # Status codes
//
// Every outcome is a JSON body with a status field; no error text crosses the boundary. The codes differ per call
// site and are kept that way because existing web clients depend on them: a missing domain on /auth is 200 bad_host
// while an unreachable host is 500 bad_host; a trust denial is 200 not_allowed; a host that fails the instance probe
// is 500 blocked; a missing or dead session on the list endpoints is 403.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Command-line Login
//
// [LoginHandler] receives the remote host's redirect during `mastodonlm login`. It processes a single callback and
// reports the new session through a channel.
//
// # Metrics
//
// [Metrics] counts login outcomes per stage and instruments every route; `serve` exposes them on /metrics.
package server
