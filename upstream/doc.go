// Package upstream is the HTTP client for the remote account API: login,
// OTP verification, registration, session checks, token refresh, and
// password recovery.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into typed results and sentinel
// errors. It makes no authorization decisions and keeps no state beyond the
// underlying http.Client. Callers (the root package's Provider) map its
// sentinels onto the public error taxonomy.
//
// # What this package must NOT do
//
//   - Persist anything. Durable storage belongs to the store package.
//   - Interpret token contents. Tokens are carried opaquely.
//   - Retry on its own. Fail-closed policy is the caller's concern.
package upstream
