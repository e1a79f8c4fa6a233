package authgate

import "context"

type clientIPContextKey struct{}
type userContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx for audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// WithUser attaches the verified profile to ctx. The route guard calls this
// before handing the request to the protected handler.
func WithUser(ctx context.Context, user *UserProfile) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the verified profile injected by the route guard.
func UserFromContext(ctx context.Context) (*UserProfile, bool) {
	user, ok := ctx.Value(userContextKey{}).(*UserProfile)
	return user, ok && user != nil
}
