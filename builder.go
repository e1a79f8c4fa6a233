package authgate

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/hamgam-dev/authgate/internal/stores"
	"github.com/hamgam-dev/authgate/store"
	"github.com/hamgam-dev/authgate/upstream"
)

// Builder assembles a [Provider]. Construction is allocation-only; no I/O
// happens before the first Provider method call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	api       upstream.API
	auditSink AuditSink

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing durable storage and the OTP
// challenge store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUpstream sets the account API implementation. When unset, Build wires
// an HTTP client against Config.Upstream.BaseURL.
func (b *Builder) WithUpstream(api upstream.API) *Builder {
	b.api = api
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the counter registry.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and assembles the Provider. A Builder
// is single-use.
func (b *Builder) Build() (*Provider, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if err := validateConfig(b.config); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}

	api := b.api
	if api == nil {
		if b.config.Upstream.BaseURL == "" {
			return nil, errors.New("upstream base url or api implementation is required")
		}
		api = upstream.NewClient(b.config.Upstream.BaseURL, b.config.Upstream.Timeout)
	}

	cookies := store.CookieConfig{
		Presence:  b.config.Cookies.Presence,
		SessionID: b.config.Cookies.SessionID,
		Secure:    b.config.Cookies.Secure,
		TTL:       b.config.Cookies.TTL,
	}

	p := &Provider{
		cfg:      b.config,
		store:    store.NewStore(b.redis, b.config.Session.RedisPrefix, cookies, b.config.Session.StorageTTL),
		otp:      stores.NewOTPChallengeStore(b.redis, b.config.Session.RedisPrefix+"c"),
		api:      api,
		audit:    newAuditDispatcher(b.config.Audit, b.auditSink),
		metrics:  NewMetrics(b.config.Metrics),
		visitors: make(map[string]*visitorState),
	}

	b.built = true
	return p, nil
}
