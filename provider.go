package authgate

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hamgam-dev/authgate/internal/stores"
	"github.com/hamgam-dev/authgate/store"
	"github.com/hamgam-dev/authgate/upstream"
)

// Provider owns the authoritative AuthState of every visitor and performs
// session hydration, verification, login, OTP confirmation, registration,
// and logout against the account API.
//
// Provider is safe for concurrent use after construction through
// [Builder.Build].
type Provider struct {
	cfg     Config
	store   *store.Store
	otp     *stores.OTPChallengeStore
	api     upstream.API
	audit   *auditDispatcher
	metrics *Metrics
	flight  singleflight.Group

	mu       sync.Mutex
	visitors map[string]*visitorState
}

// visitorState is the single mutable AuthState container for one visitor.
// The generation counter advances on logout and on fresh grants; an
// asynchronous check result is applied only if the generation it observed
// at start is still current.
type visitorState struct {
	mu       sync.Mutex
	state    AuthState
	hydrated bool
	gen      uint64

	// Memo of the most recent resolved check, valid for one generation and
	// bounded by Session.RevalidateInterval. Concurrent callers additionally
	// share a single in-flight call via the Provider's singleflight group.
	hasCheck     bool
	lastCheckOK  bool
	lastCheckGen uint64
	lastCheckAt  time.Time
}

type checkResult struct {
	ok    bool
	state AuthState
}

func (p *Provider) visitor(sid string) *visitorState {
	p.mu.Lock()
	defer p.mu.Unlock()

	vs, ok := p.visitors[sid]
	if !ok {
		vs = &visitorState{state: AuthState{IsLoading: true}}
		p.visitors[sid] = vs
	}
	return vs
}

// dropVisitor removes the map entry, but only if it still holds vs — a
// concurrent login may have replaced it. Callers keep their vs pointer;
// orphaned state is harmless and collectable.
func (p *Provider) dropVisitor(sid string, vs *visitorState) {
	p.mu.Lock()
	if cur, ok := p.visitors[sid]; ok && cur == vs {
		delete(p.visitors, sid)
	}
	p.mu.Unlock()
}

// State returns a snapshot of the visitor's AuthState. An unknown sid reads
// as the zero state; reading never allocates visitor state, so arbitrary
// cookie values cannot pin memory.
func (p *Provider) State(sid string) AuthState {
	if p == nil || sid == "" {
		return AuthState{}
	}

	p.mu.Lock()
	vs, ok := p.visitors[sid]
	p.mu.Unlock()
	if !ok {
		return AuthState{}
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.state
}

// Hydrate establishes the visitor's AuthState from durable storage. It runs
// the expensive part at most once per visitor lifetime: an empty store
// settles to unauthenticated with no network call and expires any mirror
// cookies that outlived the slot; a cached session sets the
// profile optimistically and verifies it with the account API before the
// state leaves loading. Re-entrant calls return the settled snapshot.
func (p *Provider) Hydrate(ctx context.Context, sid string, w http.ResponseWriter) AuthState {
	if p == nil {
		return AuthState{Err: ErrProviderNotReady}
	}
	if sid == "" {
		return AuthState{}
	}

	vs := p.visitor(sid)

	vs.mu.Lock()
	if vs.hydrated {
		snapshot := vs.state
		vs.mu.Unlock()
		return snapshot
	}
	vs.mu.Unlock()

	rec, err := p.store.Load(ctx, sid)
	if err != nil {
		// Missing and unreachable storage read the same: no session. The
		// distinction only matters to operators, via metrics and audit.
		vs.mu.Lock()
		vs.state = AuthState{}
		vs.hydrated = true
		snapshot := vs.state
		vs.mu.Unlock()

		// A stale mirror cookie over an empty slot would bounce the browser
		// between the edge gate and the guard forever, so reconcile the
		// cookies with storage. Clear keeps them when storage itself is
		// unreachable, so a blip cannot strand a live credential.
		_ = p.store.Clear(ctx, sid, w)

		// Nothing stored and nothing learned worth remembering; retaining
		// state for an arbitrary sid would let cookie spray pin memory.
		p.dropVisitor(sid, vs)

		p.metrics.Inc(MetricHydrateEmpty)
		p.emit(ctx, AuditEvent{
			EventType: AuditSessionHydrated,
			SessionID: sid,
			Success:   true,
			Metadata:  map[string]string{"cached": "false"},
		})
		return snapshot
	}

	profile := profileFromCache(rec.User)

	vs.mu.Lock()
	if vs.hydrated {
		snapshot := vs.state
		vs.mu.Unlock()
		return snapshot
	}
	vs.state = AuthState{IsLoading: true, User: &profile}
	vs.mu.Unlock()

	p.metrics.Inc(MetricHydrateCached)
	p.emit(ctx, AuditEvent{
		EventType: AuditSessionHydrated,
		SessionID: sid,
		UserID:    profile.ID,
		Success:   true,
		Metadata:  map[string]string{"cached": "true"},
	})

	p.CheckSession(ctx, sid, w)

	vs.mu.Lock()
	vs.hydrated = true
	snapshot := vs.state
	vs.mu.Unlock()
	return snapshot
}

// CheckSession sends the stored credential to the account API. Acceptance
// refreshes the cached profile and the presence cookie and returns true;
// rejection or network failure clears the store and returns false — an
// unreachable server is an invalid session, never a valid one.
//
// Concurrent callers share one in-flight call; a resolved result is reused
// within Session.RevalidateInterval for the same generation. A result that
// lands after Logout advanced the generation is discarded.
func (p *Provider) CheckSession(ctx context.Context, sid string, w http.ResponseWriter) bool {
	if p == nil || sid == "" {
		return false
	}

	vs := p.visitor(sid)

	vs.mu.Lock()
	startGen := vs.gen
	if vs.hasCheck && vs.lastCheckGen == startGen &&
		time.Since(vs.lastCheckAt) < p.cfg.Session.RevalidateInterval {
		ok := vs.lastCheckOK
		vs.mu.Unlock()
		p.metrics.Inc(MetricCheckShared)
		return ok
	}
	vs.mu.Unlock()

	res, _, shared := p.flight.Do(sid, func() (any, error) {
		return p.doCheck(ctx, vs, sid, startGen, w), nil
	})
	if shared {
		p.metrics.Inc(MetricCheckShared)
	}

	result, ok := res.(checkResult)
	if !ok {
		return false
	}
	return result.ok
}

func (p *Provider) doCheck(ctx context.Context, vs *visitorState, sid string, gen uint64, w http.ResponseWriter) checkResult {
	start := time.Now()
	result := p.verify(ctx, sid, w)
	p.metrics.Observe(MetricCheckLatency, time.Since(start))

	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.gen != gen {
		// Logout won the race; the resolved session must not resurrect. An
		// accepted result already re-saved the slot, so undo that too.
		if result.ok {
			_ = p.store.Clear(ctx, sid, nil)
		}
		p.metrics.Inc(MetricCheckDiscarded)
		p.emit(ctx, AuditEvent{
			EventType: AuditCheckDiscarded,
			SessionID: sid,
			Success:   false,
		})
		return checkResult{ok: false, state: vs.state}
	}

	vs.state = result.state
	vs.hasCheck = true
	vs.lastCheckOK = result.ok
	vs.lastCheckGen = gen
	vs.lastCheckAt = time.Now()

	if !result.ok && result.state.Err == nil {
		// The slot was empty; same rule as hydration, unknown sids do not
		// earn retained state.
		p.dropVisitor(sid, vs)
	}
	return result
}

// verify performs the actual store read, upstream round trip, and store
// refresh or clear. It never mutates visitorState; doCheck applies the
// outcome under the generation check.
func (p *Provider) verify(ctx context.Context, sid string, w http.ResponseWriter) checkResult {
	rec, err := p.store.Load(ctx, sid)
	if err != nil {
		return checkResult{state: AuthState{}}
	}

	profile, err := p.api.CheckSession(ctx, rec.AccessToken)
	if err == nil {
		rec.User = cacheFromUpstream(profile)
		saveErr := p.store.Save(ctx, rec, w)

		user := profileFromUpstream(profile)
		p.metrics.Inc(MetricCheckAccepted)
		p.emit(ctx, AuditEvent{
			EventType: AuditCheckAccepted,
			SessionID: sid,
			UserID:    user.ID,
			IP:        clientIPFromContext(ctx),
			Success:   true,
		})
		return checkResult{ok: true, state: AuthState{IsAuthenticated: true, User: &user, Err: saveErr}}
	}

	if errors.Is(err, upstream.ErrUnauthorized) && p.cfg.Session.RefreshOnReject && rec.RefreshToken != "" {
		if grant, refreshErr := p.api.Refresh(ctx, rec.RefreshToken); refreshErr == nil {
			saveErr := p.store.Save(ctx, recordFromGrant(grant), w)

			user := profileFromUpstream(grant.User)
			p.metrics.Inc(MetricRefreshSuccess)
			p.emit(ctx, AuditEvent{
				EventType: AuditCheckAccepted,
				SessionID: grant.SessionID,
				UserID:    user.ID,
				IP:        clientIPFromContext(ctx),
				Success:   true,
				Metadata:  map[string]string{"refreshed": "true"},
			})
			return checkResult{ok: true, state: AuthState{IsAuthenticated: true, User: &user, Err: saveErr}}
		}
		p.metrics.Inc(MetricRefreshFailure)
	}

	// Fail closed: rejected and unreachable both end the session.
	_ = p.store.Clear(ctx, sid, w)

	kind := ErrSessionInvalid
	eventType := AuditCheckRejected
	if !errors.Is(err, upstream.ErrUnauthorized) {
		kind = ErrUpstreamUnavailable
		eventType = AuditCheckNetworkError
		p.metrics.Inc(MetricCheckNetworkError)
	} else {
		p.metrics.Inc(MetricCheckRejected)
	}

	p.emit(ctx, AuditEvent{
		EventType: eventType,
		SessionID: sid,
		IP:        clientIPFromContext(ctx),
		Success:   false,
		Error:     err.Error(),
	})
	return checkResult{state: AuthState{Err: kind}}
}

// Logout clears durable storage and resets the visitor's AuthState
// synchronously — no network round trip is needed to block future
// authorization. In-flight checks are not cancelled; the generation bump
// makes their results land harmlessly.
func (p *Provider) Logout(ctx context.Context, sid string, w http.ResponseWriter) error {
	if p == nil || sid == "" {
		return nil
	}

	p.mu.Lock()
	vs, ok := p.visitors[sid]
	p.mu.Unlock()
	if ok {
		vs.mu.Lock()
		vs.gen++
		vs.state = AuthState{}
		vs.hydrated = true
		vs.hasCheck = false
		vs.mu.Unlock()

		// In-flight checks still hold this state and discard against the
		// bumped generation; the entry itself is no longer needed.
		p.dropVisitor(sid, vs)
	}

	err := p.store.Clear(ctx, sid, w)

	p.metrics.Inc(MetricLogout)
	p.emit(ctx, AuditEvent{
		EventType: AuditLogout,
		SessionID: sid,
		IP:        clientIPFromContext(ctx),
		Success:   err == nil,
		Error:     errString(err),
	})
	return err
}

// RecordDenial emits the audit trail for a route-guard denial. The guard
// middleware calls it for verification and role failures; authentication
// failures are already covered by the check events.
func (p *Provider) RecordDenial(ctx context.Context, sid, path, reason string) {
	p.emit(ctx, AuditEvent{
		EventType: AuditGuardDenied,
		SessionID: sid,
		Path:      path,
		IP:        clientIPFromContext(ctx),
		Success:   false,
		Metadata:  map[string]string{"reason": reason},
	})
}

// Credential returns the stored credential for the visitor, for handlers
// that call other services on the visitor's behalf. Returns [ErrNoSession]
// when nothing is stored; validity is still the account API's call.
func (p *Provider) Credential(ctx context.Context, sid string) (Credential, error) {
	if p == nil {
		return Credential{}, ErrProviderNotReady
	}
	if sid == "" {
		return Credential{}, ErrNoSession
	}

	rec, err := p.store.Load(ctx, sid)
	if err != nil {
		if errors.Is(err, store.ErrNoSession) {
			return Credential{}, ErrNoSession
		}
		return Credential{}, ErrStorageUnavailable
	}

	cred := Credential{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
	}
	if rec.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(rec.ExpiresAt, 0)
	}
	return cred, nil
}

// Config returns the provider's immutable configuration.
func (p *Provider) Config() Config {
	return p.cfg
}

// MetricsSnapshot returns a copy of all counters and histograms.
func (p *Provider) MetricsSnapshot() MetricsSnapshot {
	if p == nil || p.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return p.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped under
// backpressure.
func (p *Provider) AuditDropped() uint64 {
	if p == nil || p.audit == nil {
		return 0
	}
	return p.audit.Dropped()
}

// Close drains and stops the audit dispatcher.
func (p *Provider) Close() {
	if p == nil {
		return
	}
	if p.audit != nil {
		p.audit.Close()
	}
}

func (p *Provider) emit(ctx context.Context, event AuditEvent) {
	if p == nil || p.audit == nil {
		return
	}
	event.Timestamp = time.Now()
	p.audit.Emit(ctx, event)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func profileFromCache(u store.CachedUser) UserProfile {
	return UserProfile{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Phone:      u.Phone,
		IsVerified: u.IsVerified,
		IsStaff:    u.IsStaff,
		IsParent:   u.IsParent,
	}
}

func profileFromUpstream(u upstream.Profile) UserProfile {
	return UserProfile{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Phone:      u.Phone,
		IsVerified: u.IsVerified,
		IsStaff:    u.IsStaff,
		IsParent:   u.IsParent,
	}
}

func cacheFromUpstream(u upstream.Profile) store.CachedUser {
	return store.CachedUser{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Phone:      u.Phone,
		IsVerified: u.IsVerified,
		IsStaff:    u.IsStaff,
		IsParent:   u.IsParent,
	}
}

func recordFromGrant(g upstream.Grant) store.Record {
	rec := store.Record{
		SessionID:    g.SessionID,
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		User:         cacheFromUpstream(g.User),
	}
	if !g.ExpiresAt.IsZero() {
		rec.ExpiresAt = g.ExpiresAt.Unix()
	}
	return rec
}
