// Package authgate is the session and authorization layer that sits between a
// browser and the remote account API. On every navigation it decides whether
// the visitor may see a page, keeps a single authoritative AuthState per
// visitor, and keeps that state synchronized between two checkpoints that
// cannot share memory: the edge route gate (first middleware in the chain,
// cookie-only) and the route guard (per-page, profile-aware).
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Provider], [Builder], [Config],
// and value types (AuthState, UserProfile, Credential). Durable per-visitor
// storage lives in the store package, HTTP interception in the middleware
// package, and the remote API client in the upstream package. The OTP
// challenge store under internal/ is never exported.
//
// # Two sources of truth
//
// The presence cookie is a coarse hint: it only signals "a credential
// probably exists" to the edge gate, which runs before any session state is
// available. Durable storage is the fine-grained authority. The two may
// disagree for a single navigation; the route guard is the reconciliation
// point and always defers to a server-verified session.
//
// # What this package must NOT do
//
//   - Inspect credential contents. Access tokens are opaque; the remote API
//     is the sole authority on validity.
//   - Grant access on ambiguous signal. A rejected or unreachable session
//     check fails closed: the visitor is treated as logged out.
//   - Keep global mutable state. All per-visitor state is owned by a
//     Provider instance and versioned with a generation counter so stale
//     asynchronous results can be detected and discarded.
package authgate
