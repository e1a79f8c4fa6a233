package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["identifier"] != "mina@example.com" || body["password"] != "correct-horse" {
			t.Errorf("unexpected body %v", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"challenge_id": "up-ch-1",
			"expires_at":   time.Now().Add(5 * time.Minute).Unix(),
		})
	})

	ch, err := client.Login(context.Background(), "mina@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if ch.ID != "up-ch-1" || !ch.ExpiresAt.After(time.Now()) {
		t.Fatalf("unexpected challenge %+v", ch)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "invalid_credentials"})
	})

	_, err := client.Login(context.Background(), "mina@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnauthorizedWithoutCodeIsInvalidCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Login(context.Background(), "mina@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyOTPGrant(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/otp/verify/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_at":    time.Now().Add(time.Hour).Unix(),
			"session_id":    "sid-1",
			"user": map[string]any{
				"id":          "u1",
				"username":    "mina",
				"email":       "mina@example.com",
				"is_verified": true,
			},
		})
	})

	g, err := client.VerifyOTP(context.Background(), "up-ch-1", "123456")
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if g.AccessToken != "access-1" || g.SessionID != "sid-1" {
		t.Fatalf("unexpected grant %+v", g)
	}
	if g.User.ID != "u1" || !g.User.IsVerified {
		t.Fatalf("unexpected profile %+v", g.User)
	}
}

func TestVerifyOTPWireCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"otp_invalid", ErrOTPInvalid},
		{"otp_expired", ErrOTPExpired},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"code": tc.code})
			})

			_, err := client.VerifyOTP(context.Background(), "up-ch-1", "000000")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifyOTPIncompleteGrantIsProtocolError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "access-1"})
	})

	_, err := client.VerifyOTP(context.Background(), "up-ch-1", "123456")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestRegisterConflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"code": "account_exists"})
	})

	_, err := client.Register(context.Background(), "mina", "mina@example.com", "", "pw")
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestCheckSessionSendsBearer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/auth/session/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user": map[string]any{"id": "u1", "username": "mina"},
		})
	})

	profile, err := client.CheckSession(context.Background(), "access-1")
	if err != nil {
		t.Fatalf("CheckSession failed: %v", err)
	}
	if profile.ID != "u1" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestCheckSessionRejected(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})

		_, err := client.CheckSession(context.Background(), "stale")
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("status %d: expected ErrUnauthorized, got %v", status, err)
		}
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CheckSession(context.Background(), "access-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for 5xx, got %v", err)
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	client := NewClient(srv.URL, 200*time.Millisecond)

	_, err := client.CheckSession(context.Background(), "access-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for refused connection, got %v", err)
	}
}

func TestConfirmPasswordResetInvalidToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "reset_invalid"})
	})

	err := client.ConfirmPasswordReset(context.Background(), "bad-token", "new-pw")
	if !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expected ErrResetInvalid, got %v", err)
	}
}

func TestMalformedSuccessBodyIsProtocolError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := client.Login(context.Background(), "mina@example.com", "pw")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}
