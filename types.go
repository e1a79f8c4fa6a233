package authgate

import (
	"time"
)

// Role is the coarse authorization role required by a guarded page.
type Role string

const (
	// RoleUser is the default role: any authenticated account.
	RoleUser Role = "user"
	// RoleAdmin requires the staff flag on the account.
	RoleAdmin Role = "admin"
	// RoleParent requires the parent flag on the account.
	RoleParent Role = "parent"
)

// Credential is the opaque proof of identity issued by the account API.
// The access token is never inspected locally; expiry, when the API provides
// one, is stored for observability but not enforced client-side — the server
// remains the sole authority on validity.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// UserProfile is the cached copy of the account's identity attributes.
// The canonical copy is the server's; this copy is refreshed on every
// accepted session check.
type UserProfile struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	IsVerified bool   `json:"is_verified"`
	IsStaff    bool   `json:"is_staff"`
	IsParent   bool   `json:"is_parent"`
}

// HasRole reports whether the profile satisfies the given required role.
func (p UserProfile) HasRole(role Role) bool {
	switch role {
	case RoleAdmin:
		return p.IsStaff
	case RoleParent:
		return p.IsParent
	default:
		return true
	}
}

// Authorize is the authorization decision for an authenticated profile
// against a page's requirements. Returns nil, [ErrNotVerified], or
// [ErrPermissionDenied]. The route guard translates the result into a
// redirect; direct callers can branch on the sentinels.
func (p UserProfile) Authorize(role Role, requireVerified bool) error {
	if requireVerified && !p.IsVerified {
		return ErrNotVerified
	}
	if !p.HasRole(role) {
		return ErrPermissionDenied
	}
	return nil
}

// AuthState is the authoritative in-memory session state for one visitor.
// Exactly one mutable instance exists per visitor lifetime, owned by the
// [Provider]; callers only ever see value snapshots.
//
// Invariant: IsAuthenticated implies User is non-nil and was validated
// within the current navigation. IsLoading means no authorization decision
// may yet be trusted.
type AuthState struct {
	IsLoading       bool
	IsAuthenticated bool
	User            *UserProfile
	Err             error
}

// OTPChallenge is returned by [Provider.Login] and [Provider.Register] when
// the credentials were accepted and a one-time code was dispatched. The
// challenge ID is a local handle, not the upstream challenge identifier.
type OTPChallenge struct {
	ChallengeID string
	ExpiresAt   time.Time
}

// RegisterInput carries the fields of a registration request. Password
// handling and OTP delivery are the account API's concern.
type RegisterInput struct {
	Username string
	Email    string
	Phone    string
	Password string
}
