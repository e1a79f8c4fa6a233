package store

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewStore(client, "ag", CookieConfig{
		Presence:  "auth-token",
		SessionID: "sessionid",
		TTL:       time.Hour,
	}, time.Hour)
	return mr, s
}

func testRecord(sid string) Record {
	return Record{
		SessionID:    sid,
		AccessToken:  "at-" + sid,
		RefreshToken: "rt-" + sid,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User: CachedUser{
			ID:         "u-" + sid,
			Username:   "mina",
			Email:      "mina@example.com",
			IsVerified: true,
		},
	}
}

func cookieByName(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSaveLoadRoundTrip(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	rr := httptest.NewRecorder()
	if err := s.Save(ctx, testRecord("s1"), rr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rec, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.AccessToken != "at-s1" || rec.RefreshToken != "rt-s1" {
		t.Fatalf("unexpected credential: %+v", rec)
	}
	if rec.User.ID != "u-s1" || rec.User.Username != "mina" || !rec.User.IsVerified {
		t.Fatalf("unexpected cached user: %+v", rec.User)
	}
	if rec.SessionID != "s1" {
		t.Fatalf("expected session id s1, got %q", rec.SessionID)
	}
}

func TestSaveWritesBothCookies(t *testing.T) {
	_, s := newTestStore(t)

	rr := httptest.NewRecorder()
	if err := s.Save(context.Background(), testRecord("s1"), rr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	presence := cookieByName(t, rr, "auth-token")
	if presence == nil {
		t.Fatal("expected presence cookie to be set")
	}
	if presence.Value == "" || presence.Value == "at-s1" {
		t.Fatalf("presence cookie must carry a mirror id, not the credential: %q", presence.Value)
	}
	if presence.Path != "/" || presence.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected presence cookie attributes: %+v", presence)
	}

	sid := cookieByName(t, rr, "sessionid")
	if sid == nil {
		t.Fatal("expected session id cookie to be set")
	}
	if sid.Value != "s1" {
		t.Fatalf("expected session id cookie s1, got %q", sid.Value)
	}
	if !sid.HttpOnly {
		t.Fatal("session id cookie must be HttpOnly")
	}
}

func TestLoadMissingSlotIsNoSession(t *testing.T) {
	_, s := newTestStore(t)

	_, err := s.Load(context.Background(), "absent")
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestLoadHalfSlotIsNoSession(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testRecord("s1"), nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mr.Del("ag:s1:access_token")

	_, err := s.Load(ctx, "s1")
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for half slot, got %v", err)
	}
}

func TestLoadMalformedUserDropsSlot(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testRecord("s1"), nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := mr.Set("ag:s1:user", "{not json"); err != nil {
		t.Fatalf("mr.Set failed: %v", err)
	}

	_, err := s.Load(ctx, "s1")
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for malformed user, got %v", err)
	}

	// The corrupt slot must be gone so the next navigation starts clean.
	if mr.Exists("ag:s1:access_token") || mr.Exists("ag:s1:user") {
		t.Fatal("expected corrupt slot to be deleted")
	}
}

func TestClearRemovesSlotThenCookies(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testRecord("s1"), nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rr := httptest.NewRecorder()
	if err := s.Clear(ctx, "s1", rr); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if mr.Exists("ag:s1:access_token") || mr.Exists("ag:s1:user") || mr.Exists("ag:s1:session_id") || mr.Exists("ag:s1:refresh_token") {
		t.Fatal("expected slot keys to be deleted")
	}

	for _, name := range []string{"auth-token", "sessionid"} {
		c := cookieByName(t, rr, name)
		if c == nil {
			t.Fatalf("expected expiring %s cookie", name)
		}
		if c.MaxAge >= 0 {
			t.Fatalf("expected %s cookie MaxAge < 0, got %d", name, c.MaxAge)
		}
	}
}

func TestClearStorageFailureKeepsCookies(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testRecord("s1"), nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.Close()

	rr := httptest.NewRecorder()
	err := s.Clear(ctx, "s1", rr)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("cookies must not be cleared when storage deletion failed")
	}
}

func TestSaveStorageFailureWritesNoCookie(t *testing.T) {
	mr, s := newTestStore(t)
	mr.Close()

	rr := httptest.NewRecorder()
	err := s.Save(context.Background(), testRecord("s1"), rr)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("no cookie may be written when storage failed")
	}
}

func TestTouchSlidesExpiryAndReissuesCookies(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testRecord("s1"), nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.FastForward(30 * time.Minute)

	rr := httptest.NewRecorder()
	if err := s.Touch(ctx, "s1", rr); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	if ttl := mr.TTL("ag:s1:access_token"); ttl < 59*time.Minute {
		t.Fatalf("expected slot TTL reset to ~1h, got %s", ttl)
	}
	if cookieByName(t, rr, "auth-token") == nil || cookieByName(t, rr, "sessionid") == nil {
		t.Fatal("expected both cookies to be re-issued")
	}
}

func TestSaveWithoutRefreshTokenOmitsKey(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("s1")
	rec.RefreshToken = ""
	if err := s.Save(ctx, rec, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if mr.Exists("ag:s1:refresh_token") {
		t.Fatal("expected no refresh_token key for empty refresh token")
	}

	got, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.RefreshToken != "" {
		t.Fatalf("expected empty refresh token, got %q", got.RefreshToken)
	}
}
