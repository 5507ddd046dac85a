// Package models defines domain entities and persistence interfaces for the Mastodon list manager backend.
//
// The package contains two categories of types:
//
// 1. Persistent Entities: records kept in the key-value store
//   - [Session] : opaque session token bound to a remote host and its bearer token
//   - [HostConfig] : OAuth app credentials registered on a remote host
//   - [AllowedHost] : host that is always permitted
//   - [BlockedHost] : SHA-256 digest of a blocked host, tagged with its refresh batch
//
// 2. Data Transfer Objects (DTOs): shapes exchanged with remote Mastodon hosts
//   - [BlockEntry] : one row of the external domain-block feed
//   - [Account] : a remote account as returned by following/list endpoints
//   - [List] : a remote list
//
// [SessionRepository], [HostConfigRepository] and [TrustRepository] describe the four collections;
// [Store] bundles them behind one handle so the backend (SQLite or bbolt) can be chosen at startup.
package models
