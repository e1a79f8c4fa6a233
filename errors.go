package authgate

import "errors"

var (
	// ErrProviderNotReady is returned when a Provider method is called on a
	// nil or unbuilt Provider.
	ErrProviderNotReady = errors.New("provider not ready")
	// ErrNoSession reports that no credential is stored for the visitor.
	// This is a valid state, not a failure.
	ErrNoSession = errors.New("no stored session")
	// ErrSessionInvalid reports that the account API rejected the stored
	// credential (expired or revoked).
	ErrSessionInvalid = errors.New("session invalid")
	// ErrUpstreamUnavailable reports that a verification call failed to
	// complete. It is normalized to "unauthenticated" at the Provider
	// boundary: ambiguous signal fails closed.
	ErrUpstreamUnavailable = errors.New("account api unavailable")
	// ErrStorageUnavailable reports a durable-storage failure. Save degrades
	// softly; Clear refuses to half-complete.
	ErrStorageUnavailable = errors.New("session storage unavailable")
	// ErrInvalidCredentials reports a rejected identifier/password pair.
	// Surfaced inline on the login form, never as a redirect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOTP reports a wrong one-time code for a live challenge.
	ErrInvalidOTP = errors.New("invalid otp code")
	// ErrOTPExpired reports a one-time challenge that no longer exists,
	// timed out, or ran out of attempts.
	ErrOTPExpired = errors.New("otp challenge expired")
	// ErrAccountExists reports a registration against a taken identifier.
	ErrAccountExists = errors.New("account already exists")
	// ErrPasswordResetInvalid reports a rejected password-reset token.
	ErrPasswordResetInvalid = errors.New("password reset token invalid")
	// ErrNotVerified reports an authenticated but unverified account hitting
	// a page that requires verification. Surfaced as a redirect to the
	// landing page, never as blocked-but-rendered content.
	ErrNotVerified = errors.New("account not verified")
	// ErrPermissionDenied reports an authenticated account missing the role
	// a page requires. Surfaced as a redirect with an explanatory query
	// parameter.
	ErrPermissionDenied = errors.New("permission denied")
)
