// Package store is the durable per-visitor session store: it holds the
// credential and the cached user profile across page loads, and mirrors a
// minimal presence signal into a cookie so the pre-render edge gate can see
// it.
//
// # Storage layout
//
// One Redis slot per visitor, addressed by the server session id carried in
// the sessionid cookie:
//
//	<prefix>:<sid>:access_token
//	<prefix>:<sid>:refresh_token   (only when the API issued one)
//	<prefix>:<sid>:user            (profile JSON, defensively parsed)
//	<prefix>:<sid>:session_id
//
// # Cookie contract
//
// Save writes storage first, cookies second; if storage is unavailable the
// cookie write is skipped and the caller gets a soft failure. Clear deletes
// storage first and cookies last, so a failure can never leave "cookie
// cleared, storage kept" — the reverse disagreement (cookie absent, storage
// valid) is tolerated for one navigation and reconciled by the route guard.
// The presence cookie value is a mirror id, not secret material.
package store
