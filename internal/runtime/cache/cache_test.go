package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/pricefeed/internal/artifact"
	"github.com/l0p7/pricefeed/internal/handle"
)

const testHandle = "acmeHomes0123456789"

func TestKeyNamespace(t *testing.T) {
	h := handle.MustParse(testHandle)
	require.Equal(t, "artifact:metadata:"+testHandle, Key(artifact.KindMetadata, h))
	require.Equal(t, "artifact:checksum:"+testHandle, Key(artifact.KindChecksum, h))
	require.Equal(t, []string{"artifact:metadata:" + testHandle}, Keys(h))
}

func TestMemoryCacheStoreLookupDelete(t *testing.T) {
	cache := NewMemory(time.Minute)
	ctx := context.Background()
	key := Key(artifact.KindMetadata, handle.MustParse(testHandle))

	_, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	body := []byte("<dataset/>")
	require.NoError(t, cache.Store(ctx, key, Entry{Body: body}))
	body[0] = 'X'

	got, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "<dataset/>", string(got.Body), "stored body must not alias caller memory")
	require.False(t, got.GeneratedAt.IsZero())
	require.True(t, got.ExpiresAt.After(got.GeneratedAt))

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, size)

	require.NoError(t, cache.Delete(ctx, Keys(handle.MustParse(testHandle))...))
	_, ok, err = cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, cache.Close(ctx))
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	cache := newMemory(5*time.Minute, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "artifact:checksum:x", Entry{Body: []byte("abc")}))
	now = now.Add(4 * time.Minute)
	_, ok, err := cache.Lookup(ctx, "artifact:checksum:x")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, err = cache.Lookup(ctx, "artifact:checksum:x")
	require.NoError(t, err)
	require.False(t, ok, "entry must expire at its ttl")
}

func TestMemoryCacheHonoursExplicitExpiry(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	cache := newMemory(5*time.Minute, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "k", Entry{Body: []byte("a"), ExpiresAt: now.Add(time.Minute)}))
	now = now.Add(61 * time.Second)
	_, ok, err := cache.Lookup(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Store(ctx, "past", Entry{Body: []byte("a"), ExpiresAt: now.Add(-time.Second)}))
	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, size, "already-expired entries are not stored")
}

func newMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("miniredis unavailable in sandbox")
		}
		require.NoError(t, err)
	}
	t.Cleanup(server.Close)
	return server
}

func TestRedisCacheStoreLookup(t *testing.T) {
	server := newMiniredis(t)

	cache, err := NewRedis(RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, cache.Close(context.Background())) })

	ctx := context.Background()
	h := handle.MustParse(testHandle)
	generatedAt := time.Now().UTC().Truncate(time.Second)
	entry := Entry{
		Body:        []byte("<?xml version=\"1.0\"?>\n<dataset/>\n"),
		GeneratedAt: generatedAt,
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	}

	require.NoError(t, cache.Store(ctx, Key(artifact.KindMetadata, h), entry))
	require.NoError(t, cache.Store(ctx, Key(artifact.KindChecksum, h), Entry{Body: []byte("abc"), ExpiresAt: entry.ExpiresAt}))
	require.NoError(t, server.Set("ratelimit:ip:203.0.113.7", "3"))

	got, ok, err := cache.Lookup(ctx, Key(artifact.KindMetadata, h))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry.Body, got.Body)
	require.True(t, generatedAt.Equal(got.GeneratedAt))

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, size, "limiter keys must not count as artifacts")

	ttl := server.TTL(Key(artifact.KindMetadata, h))
	require.Greater(t, ttl, 4*time.Minute)
	require.LessOrEqual(t, ttl, 5*time.Minute)

	server.FastForward(6 * time.Minute)
	_, ok, err = cache.Lookup(ctx, Key(artifact.KindMetadata, h))
	require.NoError(t, err)
	require.False(t, ok, "expected redis entry to expire")
}

func TestRedisCacheDelete(t *testing.T) {
	server := newMiniredis(t)
	client, err := NewRedisClient(RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cache := NewRedisFromClient(client)
	ctx := context.Background()
	h := handle.MustParse(testHandle)
	for _, key := range Keys(h) {
		require.NoError(t, cache.Store(ctx, key, Entry{Body: []byte("x"), ExpiresAt: time.Now().Add(time.Minute)}))
	}
	require.NoError(t, cache.Delete(ctx, Keys(h)...))
	for _, key := range Keys(h) {
		require.False(t, server.Exists(key))
	}
	require.NoError(t, cache.Delete(ctx))

	// Close on a shared client must not close the client.
	require.NoError(t, cache.Close(ctx))
	require.NoError(t, client.Do(ctx, client.B().Ping().Build()).Error())
}

func TestRedisCacheRejectsMissingExpiry(t *testing.T) {
	server := newMiniredis(t)
	cache, err := NewRedis(RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	require.Error(t, cache.Store(context.Background(), "k", Entry{Body: []byte("x")}))
}

func TestRedisCacheUnavailable(t *testing.T) {
	server := newMiniredis(t)
	cache, err := NewRedis(RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	server.SetError("LOADING server is loading")
	_, _, err = cache.Lookup(context.Background(), "artifact:metadata:x")
	require.Error(t, err)
}

func TestNewRedisRequiresAddress(t *testing.T) {
	_, err := NewRedis(RedisConfig{})
	require.Error(t, err)
}
