package authgate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hamgam-dev/authgate/internal/stores"
	"github.com/hamgam-dev/authgate/upstream"
)

// Login submits an identifier/password pair. Acceptance parks an OTP
// challenge and returns its local handle; the session is only established
// once [Provider.VerifyOTP] confirms the one-time code.
func (p *Provider) Login(ctx context.Context, identifier, password string) (OTPChallenge, error) {
	if p == nil {
		return OTPChallenge{}, ErrProviderNotReady
	}

	ch, err := p.api.Login(ctx, identifier, password)
	if err != nil {
		mapped := p.mapUpstreamErr(err)
		p.metrics.Inc(MetricLoginFailure)
		p.emit(ctx, AuditEvent{
			EventType: AuditLoginFailure,
			IP:        clientIPFromContext(ctx),
			Success:   false,
			Error:     mapped.Error(),
			Metadata:  map[string]string{"identifier": identifier},
		})
		return OTPChallenge{}, mapped
	}

	p.metrics.Inc(MetricLoginSuccess)
	p.emit(ctx, AuditEvent{
		EventType: AuditLoginSuccess,
		IP:        clientIPFromContext(ctx),
		Success:   true,
		Metadata:  map[string]string{"identifier": identifier},
	})

	return p.parkChallenge(ctx, identifier, ch)
}

// VerifyOTP confirms the one-time code for a parked challenge. Success
// persists the credential and profile through the session store and flips
// the visitor's AuthState to authenticated. A wrong code burns an attempt;
// a spent or timed-out challenge sends the caller back to the login form.
func (p *Provider) VerifyOTP(ctx context.Context, challengeID, code string, w http.ResponseWriter) (AuthState, error) {
	if p == nil {
		return AuthState{}, ErrProviderNotReady
	}

	rec, err := p.otp.Get(ctx, challengeID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrOTPChallengeNotFound),
			errors.Is(err, stores.ErrOTPChallengeExpired):
			p.metrics.Inc(MetricOTPExpired)
			return AuthState{}, ErrOTPExpired
		default:
			return AuthState{}, ErrStorageUnavailable
		}
	}

	grant, err := p.api.VerifyOTP(ctx, rec.UpstreamID, code)
	if err != nil {
		return AuthState{}, p.failOTP(ctx, challengeID, rec, err)
	}

	if _, err := p.otp.Delete(ctx, challengeID); err != nil {
		// The challenge will expire on its own; the grant already stands.
		_ = err
	}

	saveErr := p.store.Save(ctx, recordFromGrant(grant), w)

	user := profileFromUpstream(grant.User)
	state := AuthState{IsAuthenticated: true, User: &user, Err: saveErr}

	vs := p.visitor(grant.SessionID)
	vs.mu.Lock()
	vs.gen++
	vs.state = state
	vs.hydrated = true
	vs.hasCheck = true
	vs.lastCheckOK = true
	vs.lastCheckGen = vs.gen
	vs.lastCheckAt = time.Now()
	vs.mu.Unlock()

	p.metrics.Inc(MetricOTPSuccess)
	p.emit(ctx, AuditEvent{
		EventType: AuditOTPVerified,
		SessionID: grant.SessionID,
		UserID:    user.ID,
		IP:        clientIPFromContext(ctx),
		Success:   true,
	})
	return state, nil
}

func (p *Provider) failOTP(ctx context.Context, challengeID string, rec *stores.OTPChallenge, err error) error {
	mapped := p.mapUpstreamErr(err)

	if errors.Is(mapped, ErrInvalidOTP) {
		exceeded, ferr := p.otp.RecordFailure(ctx, challengeID, p.cfg.OTP.MaxAttempts)
		if exceeded || errors.Is(ferr, stores.ErrOTPChallengeExpired) {
			mapped = ErrOTPExpired
		}
	}
	if errors.Is(mapped, ErrOTPExpired) {
		_, _ = p.otp.Delete(ctx, challengeID)
		p.metrics.Inc(MetricOTPExpired)
	} else if errors.Is(mapped, ErrInvalidOTP) {
		p.metrics.Inc(MetricOTPFailure)
	}

	p.emit(ctx, AuditEvent{
		EventType: AuditOTPFailure,
		IP:        clientIPFromContext(ctx),
		Success:   false,
		Error:     mapped.Error(),
		Metadata:  map[string]string{"identifier": rec.Identifier},
	})
	return mapped
}

// Register creates an account. The account API answers with an OTP challenge
// for the freshly registered identifier, so the caller lands in the same
// verification path as login.
func (p *Provider) Register(ctx context.Context, input RegisterInput) (OTPChallenge, error) {
	if p == nil {
		return OTPChallenge{}, ErrProviderNotReady
	}

	ch, err := p.api.Register(ctx, input.Username, input.Email, input.Phone, input.Password)
	if err != nil {
		mapped := p.mapUpstreamErr(err)
		p.metrics.Inc(MetricRegisterFailure)
		p.emit(ctx, AuditEvent{
			EventType: AuditRegister,
			IP:        clientIPFromContext(ctx),
			Success:   false,
			Error:     mapped.Error(),
			Metadata:  map[string]string{"identifier": input.Username},
		})
		return OTPChallenge{}, mapped
	}

	p.metrics.Inc(MetricRegisterSuccess)
	p.emit(ctx, AuditEvent{
		EventType: AuditRegister,
		IP:        clientIPFromContext(ctx),
		Success:   true,
		Metadata:  map[string]string{"identifier": input.Username},
	})

	return p.parkChallenge(ctx, input.Username, ch)
}

// RequestPasswordReset asks the account API to start password recovery for
// the identifier. The response is intentionally indistinguishable for known
// and unknown identifiers; token delivery is the API's concern.
func (p *Provider) RequestPasswordReset(ctx context.Context, identifier string) error {
	if p == nil {
		return ErrProviderNotReady
	}

	err := p.api.RequestPasswordReset(ctx, identifier)
	if err != nil {
		err = p.mapUpstreamErr(err)
	}
	p.emit(ctx, AuditEvent{
		EventType: AuditPasswordResetStart,
		IP:        clientIPFromContext(ctx),
		Success:   err == nil,
		Error:     errString(err),
		Metadata:  map[string]string{"identifier": identifier},
	})
	return err
}

// ConfirmPasswordReset completes password recovery with the emailed token.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if p == nil {
		return ErrProviderNotReady
	}

	err := p.api.ConfirmPasswordReset(ctx, token, newPassword)
	if err != nil {
		err = p.mapUpstreamErr(err)
	}
	p.emit(ctx, AuditEvent{
		EventType: AuditPasswordResetDone,
		IP:        clientIPFromContext(ctx),
		Success:   err == nil,
		Error:     errString(err),
	})
	return err
}

func (p *Provider) parkChallenge(ctx context.Context, identifier string, ch upstream.Challenge) (OTPChallenge, error) {
	expiresAt := ch.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(p.cfg.OTP.ChallengeTTL)
	}

	challengeID := uuid.NewString()
	err := p.otp.Save(ctx, challengeID, &stores.OTPChallenge{
		Identifier: identifier,
		UpstreamID: ch.ID,
		ExpiresAt:  expiresAt.Unix(),
	}, time.Until(expiresAt))
	if err != nil {
		return OTPChallenge{}, ErrStorageUnavailable
	}

	p.metrics.Inc(MetricOTPPending)
	p.emit(ctx, AuditEvent{
		EventType: AuditOTPPending,
		IP:        clientIPFromContext(ctx),
		Success:   true,
		Metadata:  map[string]string{"identifier": identifier},
	})
	return OTPChallenge{ChallengeID: challengeID, ExpiresAt: expiresAt}, nil
}

// mapUpstreamErr normalizes upstream sentinels onto the public taxonomy.
func (p *Provider) mapUpstreamErr(err error) error {
	switch {
	case errors.Is(err, upstream.ErrInvalidCredentials):
		return ErrInvalidCredentials
	case errors.Is(err, upstream.ErrOTPInvalid):
		return ErrInvalidOTP
	case errors.Is(err, upstream.ErrOTPExpired):
		return ErrOTPExpired
	case errors.Is(err, upstream.ErrAccountExists):
		return ErrAccountExists
	case errors.Is(err, upstream.ErrResetInvalid):
		return ErrPasswordResetInvalid
	case errors.Is(err, upstream.ErrUnauthorized):
		return ErrSessionInvalid
	default:
		return ErrUpstreamUnavailable
	}
}
