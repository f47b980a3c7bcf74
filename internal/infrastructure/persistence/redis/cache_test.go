package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewCacheFromClient(client, "attmon:")
}

func TestCache_SetGet(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	assert.True(t, mr.Exists("attmon:k"), "keys carry the prefix")

	var out map[string]int
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, 1, out["a"])

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrCacheMiss)
}

func TestCache_Validation(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, 0), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, 0), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
}

func TestCache_DeleteByPattern(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a:1", 1, 0))
	require.NoError(t, c.Set(ctx, "a:2", 2, 0))
	require.NoError(t, c.Set(ctx, "b:1", 3, 0))
	require.NoError(t, mr.Set("other:a:3", "x"))

	require.NoError(t, c.DeleteByPattern(ctx, "a:*"))

	ok, err := c.Exists(ctx, "b:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("attmon:a:1"))
	assert.True(t, mr.Exists("other:a:3"), "keys outside the prefix are untouched")
}

func TestSessionCache_Sessions(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()
	sc := NewSessionCache(c, "https://learn.example.edu", "tok-a", 0)

	_, err := sc.GetSession(ctx, "st-1", "res-1")
	assert.True(t, shared.IsNotFound(err))

	require.NoError(t, sc.SetSession(ctx, "st-1", "res-1", "sess-1"))
	id, err := sc.GetSession(ctx, "st-1", "res-1")
	require.NoError(t, err)
	assert.Equal(t, shared.SessionID("sess-1"), id)

	other := NewSessionCache(c, "https://learn.example.edu", "tok-b", 0)
	_, err = other.GetSession(ctx, "st-1", "res-1")
	assert.True(t, shared.IsNotFound(err), "another account does not see the entry")

	require.NoError(t, sc.DeleteSession(ctx, "st-1", "res-1"))
	_, err = sc.GetSession(ctx, "st-1", "res-1")
	assert.True(t, shared.IsNotFound(err))

	assert.ErrorIs(t, sc.SetSession(ctx, "st-1", "res-1", ""), ErrCacheNilValue)
}

func TestSessionCache_Resources(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()
	sc := NewSessionCache(c, "https://learn.example.edu", "tok", time.Minute)

	res := &monitoring.Resource{
		ID:               "res-1",
		Name:             "Intro",
		Kind:             monitoring.ResourceVideo,
		LessonID:         "lesson-1",
		AllowsMonitoring: true,
		Evaluable:        true,
		Duration:         45 * time.Second,
	}
	require.NoError(t, sc.SetResource(ctx, res))

	got, err := sc.GetResource(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, res, got)

	mr.FastForward(2 * time.Minute)
	_, err = sc.GetResource(ctx, "res-1")
	assert.True(t, shared.IsNotFound(err))
}

func TestSessionCache_InvalidateAll(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()
	a := NewSessionCache(c, "u", "tok-a", 0)
	b := NewSessionCache(c, "u", "tok-b", 0)

	require.NoError(t, a.SetSession(ctx, "st", "r", "s-a"))
	require.NoError(t, b.SetSession(ctx, "st", "r", "s-b"))

	require.NoError(t, a.InvalidateAll(ctx))
	_, err := a.GetSession(ctx, "st", "r")
	assert.True(t, shared.IsNotFound(err))
	id, err := b.GetSession(ctx, "st", "r")
	require.NoError(t, err)
	assert.Equal(t, shared.SessionID("s-b"), id)
}

func TestAccountNamespace(t *testing.T) {
	a := AccountNamespace("u", "tok")
	assert.Len(t, a, 16)
	assert.Equal(t, a, AccountNamespace("u", "tok"))
	assert.NotEqual(t, a, AccountNamespace("u", "tok2"))
	assert.NotEqual(t, AccountNamespace("ab", "c"), AccountNamespace("a", "bc"))
}
