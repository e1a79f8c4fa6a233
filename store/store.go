package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrStorageUnavailable reports that Redis could not be reached.
var ErrStorageUnavailable = errors.New("session storage unavailable")

// ErrNoSession reports that the slot holds no usable session: either half
// missing, or the cached profile malformed. Corruption reads as "no
// session", never as a crash.
var ErrNoSession = errors.New("no stored session")

// CachedUser is the stored copy of the account's identity attributes.
type CachedUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	IsVerified bool   `json:"is_verified"`
	IsStaff    bool   `json:"is_staff"`
	IsParent   bool   `json:"is_parent"`
}

// Record is one visitor's durable session state.
type Record struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the server-reported credential expiry, carried for
	// observability only; it is never persisted or enforced locally.
	ExpiresAt int64
	User      CachedUser
}

// CookieConfig names the browser-visible mirror cookies.
type CookieConfig struct {
	Presence  string
	SessionID string
	Secure    bool
	TTL       time.Duration
}

// Store is the Redis-backed session store.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	cookies CookieConfig
	ttl     time.Duration
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix namespaces the keys; ttl bounds untouched slots (zero disables
// expiry).
func NewStore(client redis.UniversalClient, prefix string, cookies CookieConfig, ttl time.Duration) *Store {
	return &Store{
		redis:   client,
		prefix:  prefix,
		cookies: cookies,
		ttl:     ttl,
	}
}

func (s *Store) key(sid, field string) string {
	return s.prefix + ":" + sid + ":" + field
}

// Save persists the record and then mirrors presence into cookies. Storage
// failure is soft: the error is returned, no cookie is written, and no
// panic escapes.
//
//	Performance: 1 Redis MULTI (3–4 SET).
func (s *Store) Save(ctx context.Context, rec Record, w http.ResponseWriter) error {
	userJSON, err := json.Marshal(rec.User)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.SessionID, "access_token"), rec.AccessToken, s.ttl)
		pipe.Set(ctx, s.key(rec.SessionID, "user"), userJSON, s.ttl)
		pipe.Set(ctx, s.key(rec.SessionID, "session_id"), rec.SessionID, s.ttl)
		if rec.RefreshToken != "" {
			pipe.Set(ctx, s.key(rec.SessionID, "refresh_token"), rec.RefreshToken, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.writeCookies(w, rec.SessionID)
	return nil
}

// Load returns the stored record for sid, or [ErrNoSession] when either the
// credential or the cached profile is missing or malformed. A malformed
// profile additionally triggers a best-effort slot delete.
//
//	Performance: 1 Redis pipeline (4 GET).
func (s *Store) Load(ctx context.Context, sid string) (Record, error) {
	pipe := s.redis.Pipeline()
	tokenCmd := pipe.Get(ctx, s.key(sid, "access_token"))
	userCmd := pipe.Get(ctx, s.key(sid, "user"))
	refreshCmd := pipe.Get(ctx, s.key(sid, "refresh_token"))
	idCmd := pipe.Get(ctx, s.key(sid, "session_id"))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	token, err := tokenCmd.Result()
	if err != nil || token == "" {
		return Record{}, ErrNoSession
	}

	userJSON, err := userCmd.Bytes()
	if err != nil {
		return Record{}, ErrNoSession
	}

	var user CachedUser
	if err := json.Unmarshal(userJSON, &user); err != nil || user.ID == "" {
		// Corrupt cache reads as logged out; drop the slot so the next
		// navigation starts clean.
		_ = s.deleteSlot(ctx, sid)
		return Record{}, ErrNoSession
	}

	rec := Record{
		SessionID:   sid,
		AccessToken: token,
		User:        user,
	}
	if refresh, err := refreshCmd.Result(); err == nil {
		rec.RefreshToken = refresh
	}
	if stored, err := idCmd.Result(); err == nil && stored != "" {
		rec.SessionID = stored
	}
	return rec, nil
}

// Clear removes the slot and the mirror cookies. Storage is deleted first
// and cookies only after that succeeds: a surviving cookie over an empty
// slot just redirects once more, while a cleared cookie over a surviving
// credential would strand the slot.
func (s *Store) Clear(ctx context.Context, sid string, w http.ResponseWriter) error {
	if err := s.deleteSlot(ctx, sid); err != nil {
		return err
	}
	s.clearCookies(w)
	return nil
}

// Touch re-issues the mirror cookies and slides storage expiry. Called at
// the defined lifecycle point after an accepted session check — there is no
// ambient per-page-load sync.
func (s *Store) Touch(ctx context.Context, sid string, w http.ResponseWriter) error {
	if s.ttl > 0 {
		_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, field := range []string{"access_token", "user", "session_id", "refresh_token"} {
				pipe.Expire(ctx, s.key(sid, field), s.ttl)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	s.writeCookies(w, sid)
	return nil
}

func (s *Store) deleteSlot(ctx context.Context, sid string) error {
	keys := []string{
		s.key(sid, "access_token"),
		s.key(sid, "user"),
		s.key(sid, "session_id"),
		s.key(sid, "refresh_token"),
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) writeCookies(w http.ResponseWriter, sid string) {
	if w == nil {
		return
	}

	maxAge := 0
	if s.cookies.TTL > 0 {
		maxAge = int(s.cookies.TTL.Seconds())
	}

	// The presence cookie carries a mirror id: boolean presence is its only
	// job, absence must never be read as "definitely logged out".
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookies.Presence,
		Value:    uuid.NewString(),
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   s.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookies.SessionID,
		Value:    sid,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Store) clearCookies(w http.ResponseWriter) {
	if w == nil {
		return
	}
	for _, name := range []string{s.cookies.Presence, s.cookies.SessionID} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Secure:   s.cookies.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
