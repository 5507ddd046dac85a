// Package repositories implements persistence for sessions, host registrations and the trust list.
//
// Two backends implement [models.Store]:
//   - [SQLStore] : SQLite tables created by the embedded migrations in package shared
//   - [BoltStore] : a single bbolt file with one bucket per collection and JSON-encoded values
//
// [Open] picks the backend from [shared.StoreConfig.Driver].
//
// Key Implementations:
//   - [SessionRepository] : opaque token to (host, access token); expiry is written but never enforced on read
//   - [HostConfigRepository] : per-host OAuth app credentials with an insert-if-absent Create for registration races
//   - [TrustRepository] : allow list keyed by host, block list keyed by sha256 digest and tagged with a refresh batch
//
// Lookups of absent keys return (nil, nil); deletes of absent keys succeed.
package repositories
