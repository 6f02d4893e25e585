package comarch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// TokenCache shares bearer tokens between processes.
type TokenCache interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, token string, ttl time.Duration) error
	Delete(ctx context.Context) error
}

// TokenSource obtains password-grant tokens from the ERP and refreshes them
// shortly before they expire. Concurrent refreshes collapse into one request.
type TokenSource struct {
	endpoint   string
	username   string
	password   string
	margin     time.Duration
	httpClient *http.Client
	cache      TokenCache
	now        func() time.Time

	group  singleflight.Group
	mu     sync.Mutex
	token  string
	expiry time.Time
}

// TokenConfig configures a TokenSource.
type TokenConfig struct {
	BaseURL  string
	Username string
	Password string
	// Margin is subtracted from the token lifetime.
	Margin     time.Duration
	HTTPClient *http.Client
	Cache      TokenCache
}

// NewTokenSource constructs a token source for the ERP at cfg.BaseURL.
func NewTokenSource(cfg TokenConfig) *TokenSource {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	margin := cfg.Margin
	if margin <= 0 {
		margin = time.Minute
	}
	return &TokenSource{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/api/Token",
		username:   cfg.Username,
		password:   cfg.Password,
		margin:     margin,
		httpClient: hc,
		cache:      cfg.Cache,
		now:        time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns a valid bearer token.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.now().Before(s.expiry) {
		token := s.token
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("token", func() (any, error) {
		if s.cache != nil {
			if token, ok, err := s.cache.Get(ctx); err == nil && ok {
				s.store(token, s.margin)
				return token, nil
			}
		}
		return s.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (s *TokenSource) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.token = ""
	s.expiry = time.Time{}
	s.mu.Unlock()
	if s.cache != nil {
		_ = s.cache.Delete(ctx)
	}
}

func (s *TokenSource) fetch(ctx context.Context) (string, error) {
	if s.username == "" {
		return "", fmt.Errorf("comarch: token: credentials not configured: %w", httpx.ErrUnavailable)
	}
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", s.username)
	form.Set("password", s.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("comarch: token: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comarch: token: %w: %v", httpx.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("comarch: token: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{Resource: "Token", Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("comarch: token: decode: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("comarch: token: empty access token")
	}
	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	ttl := lifetime - s.margin
	if ttl <= 0 {
		ttl = lifetime / 2
	}
	s.store(tr.AccessToken, ttl)
	if s.cache != nil && ttl > 0 {
		_ = s.cache.Set(ctx, tr.AccessToken, ttl)
	}
	return tr.AccessToken, nil
}

func (s *TokenSource) store(token string, ttl time.Duration) {
	s.mu.Lock()
	s.token = token
	s.expiry = s.now().Add(ttl)
	s.mu.Unlock()
}

// RedisTokenCache keeps the token under a single Redis key.
type RedisTokenCache struct {
	client *redis.Client
	key    string
}

// NewRedisTokenCache constructs the cache.
func NewRedisTokenCache(client *redis.Client, key string) *RedisTokenCache {
	if key == "" {
		key = "comarch:token"
	}
	return &RedisTokenCache{client: client, key: key}
}

// Get returns the cached token, if present.
func (c *RedisTokenCache) Get(ctx context.Context) (string, bool, error) {
	token, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, token != "", nil
}

// Set stores the token with a TTL.
func (c *RedisTokenCache) Set(ctx context.Context, token string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key, token, ttl).Err()
}

// Delete removes the token.
func (c *RedisTokenCache) Delete(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
