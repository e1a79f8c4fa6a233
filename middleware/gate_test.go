package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	authgate "github.com/hamgam-dev/authgate"
)

func TestDecide(t *testing.T) {
	routes := authgate.DefaultConfig().Routes

	cases := []struct {
		name     string
		path     string
		cookie   bool
		allow    bool
		redirect string
	}{
		{
			name:   "public path anonymous",
			path:   "/login",
			cookie: false,
			allow:  true,
		},
		{
			name:     "public path with cookie bounces to landing",
			path:     "/login",
			cookie:   true,
			redirect: "/dashboard",
		},
		{
			name:     "public sub-path with cookie bounces to landing",
			path:     "/password-recovery/confirm",
			cookie:   true,
			redirect: "/dashboard",
		},
		{
			name:     "protected path anonymous redirects to login",
			path:     "/dashboard",
			cookie:   false,
			redirect: "/login?redirect=%2Fdashboard",
		},
		{
			name:     "redirect query escapes the original path",
			path:     "/reports/monthly",
			cookie:   false,
			redirect: "/login?redirect=%2Freports%2Fmonthly",
		},
		{
			name:   "protected path with cookie",
			path:   "/dashboard",
			cookie: true,
			allow:  true,
		},
		{
			name:   "unknown path with cookie",
			path:   "/whatever",
			cookie: true,
			allow:  true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(routes, tc.cookie, tc.path)
			if d.Allow != tc.allow {
				t.Fatalf("Allow = %v, want %v", d.Allow, tc.allow)
			}
			if d.RedirectTo != tc.redirect {
				t.Fatalf("RedirectTo = %q, want %q", d.RedirectTo, tc.redirect)
			}
		})
	}
}

func TestDecideDoesNotMatchPrefixWithoutSeparator(t *testing.T) {
	routes := authgate.DefaultConfig().Routes

	// /loginhistory is a protected page that merely shares a prefix with
	// the public /login.
	d := Decide(routes, false, "/loginhistory")
	if d.Allow {
		t.Fatal("expected /loginhistory to be treated as protected")
	}
}

func gateRequest(t *testing.T, cfg authgate.Config, path string, withCookie bool) *httptest.ResponseRecorder {
	t.Helper()

	handler := EdgeGate(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if withCookie {
		req.AddCookie(&http.Cookie{Name: cfg.Cookies.Presence, Value: "mirror-id"})
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestEdgeGateRedirectsAnonymousFromProtected(t *testing.T) {
	cfg := authgate.DefaultConfig()

	rr := gateRequest(t, cfg, "/dashboard", false)
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/login?redirect=%2Fdashboard" {
		t.Fatalf("unexpected redirect target %q", loc)
	}
}

func TestEdgeGateBouncesCookieHolderFromPublic(t *testing.T) {
	cfg := authgate.DefaultConfig()

	rr := gateRequest(t, cfg, "/register", true)
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/dashboard" {
		t.Fatalf("unexpected redirect target %q", loc)
	}
}

func TestEdgeGateExcludedPrefixBypasses(t *testing.T) {
	cfg := authgate.DefaultConfig()

	// No cookie and not public, yet the excluded prefixes pass untouched.
	for _, path := range []string{"/api/auth/login", "/static/app.css", "/_assets/logo.svg", "/favicon.ico"} {
		rr := gateRequest(t, cfg, path, false)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected %s to bypass the gate, got %d", path, rr.Code)
		}
	}
}

func TestEdgeGateEmptyCookieValueIsAbsent(t *testing.T) {
	cfg := authgate.DefaultConfig()

	handler := EdgeGate(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: cfg.Cookies.Presence, Value: ""})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected empty cookie to count as absent, got %d", rr.Code)
	}
}
