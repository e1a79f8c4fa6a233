package authgate

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config groups all tunables of the session layer. Instances are configured
// during initialization and treated as immutable afterwards.
type Config struct {
	Cookies  CookieConfig
	Routes   RouteConfig
	Session  SessionConfig
	Upstream UpstreamConfig
	OTP      OTPConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig names the two cookies the layer maintains. The presence
// cookie is a low-information mirror of "a credential exists"; its value is
// a mirror id, never the credential itself.
type CookieConfig struct {
	Presence  string // default "auth-token"
	SessionID string // default "sessionid"
	Secure    bool
	TTL       time.Duration
}

/*
====================================
ROUTE CONFIG
====================================
*/

// RouteConfig declares the path topology the edge gate and route guard
// operate on. Public and Excluded entries match the path itself and all
// sub-paths.
type RouteConfig struct {
	// Login is the target of unauthenticated redirects.
	Login string
	// Landing is the default authenticated landing page, also the target of
	// permission-denied redirects.
	Landing string
	// Public paths are reachable without a session (login, register,
	// password recovery, OTP verification).
	Public []string
	// Excluded prefixes bypass the edge gate entirely: API routes, built
	// assets, favicon.
	Excluded []string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls durable storage and verification cadence.
type SessionConfig struct {
	RedisPrefix string
	// StorageTTL bounds how long an untouched visitor record survives in
	// durable storage. Zero disables expiry.
	StorageTTL time.Duration
	// RevalidateInterval is how long an accepted (or rejected) session check
	// is reused before the account API is consulted again. Concurrent checks
	// always share one in-flight call regardless of this value.
	RevalidateInterval time.Duration
	// RefreshOnReject enables a single silent refresh attempt with the
	// stored refresh token before a rejected check fails closed.
	RefreshOnReject bool
}

/*
====================================
UPSTREAM CONFIG
====================================
*/

// UpstreamConfig points the layer at the remote account API.
type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls the local login/registration challenge store.
type OTPConfig struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking when the buffer is full.
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the in-process counter registry.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration the shipped product runs with.
func DefaultConfig() Config {
	return Config{
		Cookies: CookieConfig{
			Presence:  "auth-token",
			SessionID: "sessionid",
			TTL:       30 * 24 * time.Hour,
		},
		Routes: RouteConfig{
			Login:   "/login",
			Landing: "/dashboard",
			Public:  []string{"/login", "/register", "/password-recovery", "/verify-otp"},
			Excluded: []string{
				"/api/",
				"/static/",
				"/_assets/",
				"/favicon.ico",
			},
		},
		Session: SessionConfig{
			RedisPrefix:        "ag",
			StorageTTL:         30 * 24 * time.Hour,
			RevalidateInterval: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout: 10 * time.Second,
		},
		OTP: OTPConfig{
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  5,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

type envConfig struct {
	PresenceCookie     string        `env:"AUTHGATE_PRESENCE_COOKIE"`
	SessionIDCookie    string        `env:"AUTHGATE_SESSIONID_COOKIE"`
	CookieSecure       bool          `env:"AUTHGATE_COOKIE_SECURE"`
	LoginPath          string        `env:"AUTHGATE_LOGIN_PATH"`
	LandingPath        string        `env:"AUTHGATE_LANDING_PATH"`
	PublicPaths        []string      `env:"AUTHGATE_PUBLIC_PATHS"`
	ExcludedPrefixes   []string      `env:"AUTHGATE_EXCLUDED_PREFIXES"`
	RedisPrefix        string        `env:"AUTHGATE_REDIS_PREFIX"`
	StorageTTL         time.Duration `env:"AUTHGATE_STORAGE_TTL"`
	RevalidateInterval time.Duration `env:"AUTHGATE_REVALIDATE_INTERVAL"`
	RefreshOnReject    bool          `env:"AUTHGATE_REFRESH_ON_REJECT"`
	UpstreamBaseURL    string        `env:"AUTHGATE_UPSTREAM_URL"`
	UpstreamTimeout    time.Duration `env:"AUTHGATE_UPSTREAM_TIMEOUT"`
}

// ConfigFromEnv returns DefaultConfig overlaid with AUTHGATE_* environment
// variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, err
	}

	if ec.PresenceCookie != "" {
		cfg.Cookies.Presence = ec.PresenceCookie
	}
	if ec.SessionIDCookie != "" {
		cfg.Cookies.SessionID = ec.SessionIDCookie
	}
	if ec.CookieSecure {
		cfg.Cookies.Secure = true
	}
	if ec.LoginPath != "" {
		cfg.Routes.Login = ec.LoginPath
	}
	if ec.LandingPath != "" {
		cfg.Routes.Landing = ec.LandingPath
	}
	if len(ec.PublicPaths) > 0 {
		cfg.Routes.Public = ec.PublicPaths
	}
	if len(ec.ExcludedPrefixes) > 0 {
		cfg.Routes.Excluded = ec.ExcludedPrefixes
	}
	if ec.RedisPrefix != "" {
		cfg.Session.RedisPrefix = ec.RedisPrefix
	}
	if ec.StorageTTL > 0 {
		cfg.Session.StorageTTL = ec.StorageTTL
	}
	if ec.RevalidateInterval > 0 {
		cfg.Session.RevalidateInterval = ec.RevalidateInterval
	}
	if ec.RefreshOnReject {
		cfg.Session.RefreshOnReject = true
	}
	if ec.UpstreamBaseURL != "" {
		cfg.Upstream.BaseURL = ec.UpstreamBaseURL
	}
	if ec.UpstreamTimeout > 0 {
		cfg.Upstream.Timeout = ec.UpstreamTimeout
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.Cookies.Presence == "" || cfg.Cookies.SessionID == "" {
		return errors.New("cookie names must not be empty")
	}
	if cfg.Cookies.Presence == cfg.Cookies.SessionID {
		return errors.New("presence and sessionid cookies must differ")
	}
	if !strings.HasPrefix(cfg.Routes.Login, "/") {
		return errors.New("login path must be absolute")
	}
	if !strings.HasPrefix(cfg.Routes.Landing, "/") {
		return errors.New("landing path must be absolute")
	}
	for _, p := range cfg.Routes.Public {
		if !strings.HasPrefix(p, "/") {
			return errors.New("public paths must be absolute")
		}
	}
	if cfg.Session.RedisPrefix == "" {
		return errors.New("redis prefix must not be empty")
	}
	if cfg.Session.RevalidateInterval < 0 {
		return errors.New("revalidate interval must not be negative")
	}
	if cfg.OTP.ChallengeTTL <= 0 {
		return errors.New("otp challenge ttl must be positive")
	}
	if cfg.OTP.MaxAttempts <= 0 {
		return errors.New("otp max attempts must be positive")
	}
	if cfg.Audit.Enabled && cfg.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Routes.Public = append([]string(nil), cfg.Routes.Public...)
	out.Routes.Excluded = append([]string(nil), cfg.Routes.Excluded...)
	return out
}
