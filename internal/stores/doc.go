// Package stores provides the Redis-backed store for short-lived OTP login
// challenges.
//
// # Design
//
// A challenge is a versioned, binary-encoded record in Redis with a TTL.
// RecordFailure uses a WATCH/MULTI optimistic transaction with automatic
// retry on contention, so concurrent wrong-code submissions across instances
// burn the shared attempt budget exactly once each. Records are single-use:
// deleted on successful verification, on expiry, and when the attempt limit
// is reached.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// challenge records. It does NOT verify one-time codes or make
// authentication decisions; the Provider in the root package does that
// against the account API.
//
// # What this package must NOT do
//
//   - Import authgate or any sibling package.
//   - Store or log one-time codes; only the account API ever sees them.
package stores
