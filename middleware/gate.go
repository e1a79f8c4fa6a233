package middleware

import (
	"net/http"
	"net/url"
	"strings"

	authgate "github.com/hamgam-dev/authgate"
)

// Decision is the outcome of one edge-gate evaluation.
type Decision struct {
	Allow      bool
	RedirectTo string
}

// Decide is the pure decision function of the edge route gate: cookie
// presence and path in, allow-or-redirect out. Rules, in order:
//
//  1. Public path with a present cookie redirects to the landing page.
//  2. Non-public path without a cookie redirects to login, carrying the
//     original path in the redirect query parameter.
//  3. Everything else is allowed.
//
// Excluded prefixes never reach Decide; the middleware filters them first.
func Decide(routes authgate.RouteConfig, cookiePresent bool, path string) Decision {
	if matchesAny(routes.Public, path) {
		if cookiePresent {
			return Decision{RedirectTo: routes.Landing}
		}
		return Decision{Allow: true}
	}

	if !cookiePresent {
		return Decision{RedirectTo: routes.Login + "?redirect=" + url.QueryEscape(path)}
	}

	return Decision{Allow: true}
}

// EdgeGate returns the pre-render interceptor middleware. It inspects only
// the presence cookie and the requested path — never the Provider, which
// does not exist yet at this execution phase.
func EdgeGate(cfg authgate.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			for _, prefix := range cfg.Routes.Excluded {
				if strings.HasPrefix(path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			d := Decide(cfg.Routes, hasCookie(r, cfg.Cookies.Presence), path)
			if d.Allow {
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, d.RedirectTo, http.StatusFound)
		})
	}
}

// matchesAny reports whether path equals one of the declared paths or lives
// under it as a sub-path.
func matchesAny(declared []string, path string) bool {
	for _, p := range declared {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func hasCookie(r *http.Request, name string) bool {
	c, err := r.Cookie(name)
	return err == nil && c.Value != ""
}
