package middleware

import (
	"errors"
	"net/http"
	"net/url"

	authgate "github.com/hamgam-dev/authgate"
)

// GuardConfig configures one guarded subtree.
type GuardConfig struct {
	RequiredRole    authgate.Role
	RequireVerified bool
}

// DefaultGuardConfig is the configuration most pages run with: any
// authenticated, verified account.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RequiredRole:    authgate.RoleUser,
		RequireVerified: true,
	}
}

// Guard wraps a protected subtree with the context-dependent checks the
// edge gate cannot perform: server-verified session, verification flag,
// required role. The request blocks while the Provider hydrates — the
// protected handler never runs, and no redirect is issued, on a state that
// is still loading.
//
// Denials, in order:
//
//  1. Not authenticated — login with redirect=<path>.
//  2. Session check fails — login with session=expired.
//  3. Unverified where verification is required — landing page (the
//     visitor is authenticated, just not permitted here).
//  4. Missing admin role — landing page with error=unauthorized.
//  5. Missing parent role — landing page with error=not_parent.
func Guard(p *authgate.Provider, cfg GuardConfig) func(http.Handler) http.Handler {
	if cfg.RequiredRole == "" {
		cfg.RequiredRole = authgate.RoleUser
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			routes := p.Config().Routes
			path := r.URL.Path
			ctx := r.Context()

			sid := sessionID(r, p.Config().Cookies.SessionID)
			if sid == "" {
				redirectLogin(w, r, routes, path)
				return
			}

			state := p.Hydrate(ctx, sid, w)
			if !state.IsAuthenticated {
				redirectLogin(w, r, routes, path)
				return
			}

			if !p.CheckSession(ctx, sid, w) {
				http.Redirect(w, r, routes.Login+"?session=expired", http.StatusFound)
				return
			}

			// Hydrate and CheckSession only return settled states, so the
			// snapshot below is post-verification.
			state = p.State(sid)
			if !state.IsAuthenticated || state.User == nil {
				redirectLogin(w, r, routes, path)
				return
			}
			user := *state.User

			switch err := user.Authorize(cfg.RequiredRole, cfg.RequireVerified); {
			case errors.Is(err, authgate.ErrNotVerified):
				p.RecordDenial(ctx, sid, path, "unverified")
				http.Redirect(w, r, routes.Landing, http.StatusFound)
				return
			case errors.Is(err, authgate.ErrPermissionDenied):
				target := routes.Landing + "?error=unauthorized"
				if cfg.RequiredRole == authgate.RoleParent {
					target = routes.Landing + "?error=not_parent"
				}
				p.RecordDenial(ctx, sid, path, "role:"+string(cfg.RequiredRole))
				http.Redirect(w, r, target, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r.WithContext(authgate.WithUser(ctx, &user)))
		})
	}
}

func redirectLogin(w http.ResponseWriter, r *http.Request, routes authgate.RouteConfig, path string) {
	http.Redirect(w, r, routes.Login+"?redirect="+url.QueryEscape(path), http.StatusFound)
}

func sessionID(r *http.Request, cookieName string) string {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
