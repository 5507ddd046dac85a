// Package services talks to remote Mastodon hosts.
//
// # Transport
//
// [MastodonService] is a client bound to one host. Every request carries the "mastodonlistmanager" User-Agent
// (some edge proxies drop requests without one) and a bounded timeout. Non-2xx answers become [*APIError],
// which unwraps to the shared error taxonomy:
//   - 400, 422 : [shared.ErrIllegalArgument]
//   - 401, 403 : [shared.ErrUnauthorized]
//   - 404 : [shared.ErrNotFound]
//   - 5xx : [shared.ErrInternalServer]
//   - anything else : [shared.ErrAPIRequest]
//
// Failures to reach a host at all wrap [shared.ErrBadHost].
//
// # OAuth
//
// Authorization URLs and the code exchange go through [oauth2.Config] with client credentials sent in the form body.
// The same four scopes ([models.Scopes]) are used on registration, authorization and exchange.
//
// # Factory
//
// [ClientFactory] is the only way to obtain a client for list operations. It probes /api/v1/instance before handing a
// client out and refuses hosts whose answer does not look like Mastodon ([shared.ErrNotMastodon]).
//
// [AppRegistry] registers one OAuth application per host and reuses it afterwards.
package services
