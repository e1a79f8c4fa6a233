// Package middleware exposes the two HTTP checkpoints of the session layer.
//
// # Checkpoints
//
//   - [EdgeGate] — pre-render interceptor. Runs first in the chain, sees
//     only the presence cookie and the path, and redirects before any page
//     code executes. Intentionally coarse: it exists to avoid a flash of
//     protected content, not to be the authority on validity.
//   - [Guard] — per-page wrapper. Consults the Provider for the
//     server-verified session, the verification flag, and the required
//     role, and issues the second, more specific redirect.
//
// The two checkpoints cannot share memory and may transiently disagree; the
// gate always completes before the guard runs, so they never interleave,
// and the guard's decision wins.
//
// # What this package must NOT do
//
//   - Make authentication decisions itself. Guard delegates to the
//     Provider; EdgeGate only pattern-matches cookie presence and paths.
//   - Render blocked content. Every denial is a redirect with an
//     explanatory query parameter.
package middleware
