// Package idempotency records processed request keys so repeated submissions
// of the same operation are rejected.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// ErrConflict indicates the key was already claimed.
var ErrConflict = fmt.Errorf("idempotent request already processed: %w", httpx.ErrConflict)

// Store claims and releases keys within a scope.
type Store interface {
	Claim(ctx context.Context, scope, key string) error
	Release(ctx context.Context, scope, key string) error
}

func validate(scope, key string) error {
	if key == "" {
		return errors.New("idempotency: key required")
	}
	if scope == "" {
		return errors.New("idempotency: scope required")
	}
	return nil
}

// RedisStore claims keys with SET NX and a retention TTL.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore constructs the store.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisStore{client: client, retention: retention}
}

// Claim records the key or returns ErrConflict.
func (s *RedisStore) Claim(ctx context.Context, scope, key string) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, redisKey(scope, key), time.Now().UTC().Format(time.RFC3339), s.retention).Result()
	if err != nil {
		return fmt.Errorf("idempotency: claim: %w", err)
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Release forgets the key, typically after failed processing.
func (s *RedisStore) Release(ctx context.Context, scope, key string) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	return s.client.Del(ctx, redisKey(scope, key)).Err()
}

func redisKey(scope, key string) string {
	return "idempotency:" + scope + ":" + key
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore persists keys in the idempotency_keys table.
type PGStore struct {
	db Execer
}

// Schema creates the table PGStore writes to.
const Schema = `CREATE TABLE IF NOT EXISTS idempotency_keys (
	key        TEXT NOT NULL,
	module     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (module, key)
)`

// NewPGStore constructs the store.
func NewPGStore(db Execer) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the table when missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("idempotency: schema: %w", err)
	}
	return nil
}

// Claim inserts the key or returns ErrConflict on a unique violation.
func (s *PGStore) Claim(ctx context.Context, scope, key string) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, scope, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("idempotency: claim: %w", err)
	}
	return nil
}

// Release removes a key.
func (s *PGStore) Release(ctx context.Context, scope, key string) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE module=$1 AND key=$2`, scope, key)
	return err
}

// Cleanup removes entries older than the retention window.
func (s *PGStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, time.Now().Add(-olderThan))
	return err
}
