// Package tasks orchestrates the login flow, the host trust list and list operations.
//
// # Host Trust
//
// [HostTrust] answers "may this host be contacted at all". Allowed hosts always pass; any other host passes unless
// the sha256 of its lowercased name is on the block list. The block list mirrors an external domain_blocks feed:
// [HostTrust.RefreshBlockList] writes every entry under a batch tag through a rate limiter, then deletes entries from
// older batches. A failed write stops the refresh before anything is deleted.
//
// # Auth Flow
//
// [AuthFlow] is the login state machine:
//
//  1. [AuthFlow.Start] : reuse a live session, or check trust, register an app when needed, probe the host and
//     return its authorization URL
//  2. [AuthFlow.Callback] : exchange the code for a bearer token and store a session
//  3. [AuthFlow.Logout] : revoke the token and drop the session
//
// [AuthFlow.ClientCallback] and [AuthFlow.ClientLogout] serve clients that hold the bearer token themselves.
//
// # Lists
//
// [ListManager.Connect] turns a session token into a verified [ListSession] used by the list endpoints.
//
// # Progress Reporting
//
// Block-list refreshes report [ProgressUpdate] values on an optional channel. Sends never block.
package tasks
