package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *JSONCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewJSONCache(client, "catalog", time.Minute)
}

func TestFetchCachesLoaderResult(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return []string{"a", "b"}, nil
	}

	key, err := c.Key(ctx, "items", "brama")
	require.NoError(t, err)
	assert.Equal(t, "catalog:items:brama:v1", key)

	var first, second []string
	require.NoError(t, c.Fetch(ctx, key, &first, loader))
	require.NoError(t, c.Fetch(ctx, key, &second, loader))
	assert.Equal(t, []string{"a", "b"}, second)
	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestBumpChangesKeys(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	before, err := c.Key(ctx, "dictionaries")
	require.NoError(t, err)
	ver, err := c.Bump(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ver)
	after, err := c.Key(ctx, "dictionaries")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Equal(t, "catalog:dictionaries:v2", after)
}

func TestLoaderErrorIsNotCached(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var out []string
	err := c.Fetch(ctx, "catalog:x:v1", &out, func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("catalog:x:v1"))
}

func TestCorruptEntryIsReloaded(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("catalog:x:v1", "{not json"))

	var out map[string]int
	require.NoError(t, c.Fetch(ctx, "catalog:x:v1", &out, func(context.Context) (any, error) {
		return map[string]int{"n": 1}, nil
	}))
	assert.Equal(t, 1, out["n"])
}

func TestNilCacheRunsLoader(t *testing.T) {
	var c *JSONCache
	ctx := context.Background()
	key, err := c.Key(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", key)

	var out int
	require.NoError(t, c.Fetch(ctx, key, &out, func(context.Context) (any, error) { return 7, nil }))
	assert.Equal(t, 7, out)
	_, err = c.Bump(ctx)
	assert.NoError(t, err)
}
