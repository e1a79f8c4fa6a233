package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnavailable reports that a call failed to complete: connection
	// refused, timeout, or a 5xx response.
	ErrUnavailable = errors.New("account api unavailable")
	// ErrUnauthorized reports a 401 on a credentialed call.
	ErrUnauthorized = errors.New("account api rejected credential")
	// ErrInvalidCredentials reports a rejected identifier/password pair.
	ErrInvalidCredentials = errors.New("account api rejected credentials")
	// ErrOTPInvalid reports a wrong one-time code.
	ErrOTPInvalid = errors.New("account api rejected otp code")
	// ErrOTPExpired reports an expired or unknown one-time challenge.
	ErrOTPExpired = errors.New("account api otp challenge expired")
	// ErrAccountExists reports a registration conflict.
	ErrAccountExists = errors.New("account api reported duplicate account")
	// ErrResetInvalid reports a rejected password-reset token.
	ErrResetInvalid = errors.New("account api rejected reset token")
	// ErrProtocol reports a response the client could not interpret.
	ErrProtocol = errors.New("account api protocol error")
)

// Profile is the wire shape of the account's identity attributes.
type Profile struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	IsVerified bool   `json:"is_verified"`
	IsStaff    bool   `json:"is_staff"`
	IsParent   bool   `json:"is_parent"`
}

// Challenge identifies a pending OTP verification on the server.
type Challenge struct {
	ID        string
	ExpiresAt time.Time
}

// Grant is a freshly issued session: credential plus canonical profile.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	SessionID    string
	User         Profile
}

// API is the account-service contract the session layer depends on.
// Implemented by [Client]; test doubles implement it in-memory.
type API interface {
	Login(ctx context.Context, identifier, password string) (Challenge, error)
	VerifyOTP(ctx context.Context, challengeID, code string) (Grant, error)
	Register(ctx context.Context, username, email, phone, password string) (Challenge, error)
	CheckSession(ctx context.Context, accessToken string) (Profile, error)
	Refresh(ctx context.Context, refreshToken string) (Grant, error)
	RequestPasswordReset(ctx context.Context, identifier string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
}

// Client is the HTTP implementation of [API].
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the account API at baseURL. A zero timeout
// falls back to 10s; the credential is the only authority the server needs,
// so no other transport configuration is exposed.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type wireError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type wireChallenge struct {
	ChallengeID string `json:"challenge_id"`
	ExpiresAt   int64  `json:"expires_at"`
}

type wireGrant struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    int64   `json:"expires_at"`
	SessionID    string  `json:"session_id"`
	User         Profile `json:"user"`
}

func (c *Client) Login(ctx context.Context, identifier, password string) (Challenge, error) {
	body := map[string]string{"identifier": identifier, "password": password}

	var out wireChallenge
	if err := c.do(ctx, http.MethodPost, "/api/auth/login/", "", body, &out); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return Challenge{}, ErrInvalidCredentials
		}
		return Challenge{}, err
	}
	return challengeFromWire(out)
}

func (c *Client) VerifyOTP(ctx context.Context, challengeID, code string) (Grant, error) {
	body := map[string]string{"challenge_id": challengeID, "code": code}

	var out wireGrant
	if err := c.do(ctx, http.MethodPost, "/api/auth/otp/verify/", "", body, &out); err != nil {
		return Grant{}, err
	}
	return grantFromWire(out)
}

func (c *Client) Register(ctx context.Context, username, email, phone, password string) (Challenge, error) {
	body := map[string]string{
		"username": username,
		"email":    email,
		"phone":    phone,
		"password": password,
	}

	var out wireChallenge
	if err := c.do(ctx, http.MethodPost, "/api/auth/register/", "", body, &out); err != nil {
		return Challenge{}, err
	}
	return challengeFromWire(out)
}

func (c *Client) CheckSession(ctx context.Context, accessToken string) (Profile, error) {
	var out struct {
		User Profile `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/session/", accessToken, nil, &out); err != nil {
		return Profile{}, err
	}
	if out.User.ID == "" {
		return Profile{}, fmt.Errorf("%w: session response missing user", ErrProtocol)
	}
	return out.User, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var out wireGrant
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh/", "", body, &out); err != nil {
		return Grant{}, err
	}
	return grantFromWire(out)
}

func (c *Client) RequestPasswordReset(ctx context.Context, identifier string) error {
	body := map[string]string{"identifier": identifier}
	return c.do(ctx, http.MethodPost, "/api/auth/password-reset/", "", body, nil)
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	body := map[string]string{"token": token, "new_password": newPassword}
	return c.do(ctx, http.MethodPost, "/api/auth/password-reset/confirm/", "", body, nil)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return c.mapError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}

// mapError normalizes a 4xx response onto the package sentinels. The API
// reports machine-readable codes in the body; the status code is the
// fallback when the body is unreadable.
func (c *Client) mapError(resp *http.Response) error {
	var we wireError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&we)

	switch we.Code {
	case "otp_invalid":
		return ErrOTPInvalid
	case "otp_expired":
		return ErrOTPExpired
	case "account_exists":
		return ErrAccountExists
	case "reset_invalid":
		return ErrResetInvalid
	case "invalid_credentials":
		return ErrInvalidCredentials
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusConflict:
		return ErrAccountExists
	case http.StatusGone:
		return ErrOTPExpired
	default:
		return fmt.Errorf("%w: status %d code %q", ErrProtocol, resp.StatusCode, we.Code)
	}
}

func challengeFromWire(w wireChallenge) (Challenge, error) {
	if w.ChallengeID == "" {
		return Challenge{}, fmt.Errorf("%w: challenge response missing id", ErrProtocol)
	}
	ch := Challenge{ID: w.ChallengeID}
	if w.ExpiresAt > 0 {
		ch.ExpiresAt = time.Unix(w.ExpiresAt, 0)
	}
	return ch, nil
}

func grantFromWire(w wireGrant) (Grant, error) {
	if w.AccessToken == "" || w.SessionID == "" || w.User.ID == "" {
		return Grant{}, fmt.Errorf("%w: grant response incomplete", ErrProtocol)
	}
	g := Grant{
		AccessToken:  w.AccessToken,
		RefreshToken: w.RefreshToken,
		SessionID:    w.SessionID,
		User:         w.User,
	}
	if w.ExpiresAt > 0 {
		g.ExpiresAt = time.Unix(w.ExpiresAt, 0)
	}
	return g, nil
}
