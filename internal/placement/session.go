package placement

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

// ErrNoSession is returned when the request carries no live placement session.
var ErrNoSession = errors.New("placement: no session")

// Session is a placement persisted between the launch POST and API calls.
type Session struct {
	ID        string    `json:"id"`
	Placement Placement `json:"placement"`
	AuthID    string    `json:"auth_id"`
	RefreshID string    `json:"refresh_id"`
	CSRFToken string    `json:"csrf_token"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps sessions in Redis behind a cookie. The cookie is SameSite=None
// because the app runs inside the portal's iframe.
type Store struct {
	client     *redis.Client
	csrf       *CSRFManager
	cookieName string
	ttl        time.Duration
	secure     bool
}

// NewStore constructs a session store.
func NewStore(client *redis.Client, csrf *CSRFManager, cookieName string, ttl time.Duration, secure bool) *Store {
	if cookieName == "" {
		cookieName = "crmbridge_session"
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Store{client: client, csrf: csrf, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Create persists a new session for p and writes the cookie.
func (s *Store) Create(ctx context.Context, w http.ResponseWriter, p Placement) (*Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("placement: session id: %w", err)
	}
	sess := &Session{
		ID:        id.String(),
		Placement: p,
		AuthID:    p.AuthID,
		RefreshID: p.RefreshID,
		CreatedAt: time.Now().UTC(),
	}
	sess.CSRFToken = s.csrf.Issue(sess.ID)
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("placement: encode session: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(sess.ID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("placement: store session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteNoneMode,
		Expires:  time.Now().Add(s.ttl),
	})
	return sess, nil
}

// Load returns the session named by the request cookie and slides its expiry.
func (s *Store) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}
	payload, err := s.client.Get(ctx, redisKey(cookie.Value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("placement: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, ErrNoSession
	}
	sess.Placement.AuthID = sess.AuthID
	sess.Placement.RefreshID = sess.RefreshID
	_ = s.client.Expire(ctx, redisKey(sess.ID), s.ttl).Err()
	return &sess, nil
}

// Destroy deletes the session and expires the cookie.
func (s *Store) Destroy(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	if err := s.client.Del(ctx, redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("placement: delete session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteNoneMode,
	})
	return nil
}

// CookieName returns the session cookie name.
func (s *Store) CookieName() string {
	return s.cookieName
}

func redisKey(id string) string {
	return "placement:session:" + id
}

type sessionContextKey struct{}

// ContextWithSession stores the session in ctx.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// FromContext returns the session stored in ctx, or nil.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
