package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestCache(t *testing.T) *LocalCache {
	c, err := NewCache(Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestGetSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "key1", "value1", 0)
	require.NoError(t, err)

	v, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", v)
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "ttl_key", "val", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = c.Get(ctx, "ttl_key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDel(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", 0)
	_ = c.SAdd(ctx, "s", "a")
	_ = c.Del(ctx, "k", "s")
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	members, _ := c.SMembers(ctx, "s")
	assert.Empty(t, members)
}

func TestExists(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", 0)
	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, _ = c.Exists(ctx, "nope")
	assert.False(t, exists)
}

func TestSetNX(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", "owner", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok) // already held
}

func TestIncrKeepsExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	n, err := c.Incr(ctx, "fails")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, c.Expire(ctx, "fails", 15*time.Millisecond))

	n, err = c.Incr(ctx, "fails")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	time.Sleep(25 * time.Millisecond)
	_, err = c.Get(ctx, "fails")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrNonInteger(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", "abc", 0)
	_, err := c.Incr(ctx, "k")
	assert.Error(t, err)
}

func TestExpireMissing(t *testing.T) {
	c := newTestCache(t)
	assert.ErrorIs(t, c.Expire(context.Background(), "ghost", time.Second), ErrNotFound)
}

func TestKeys(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "resp:items", "1", 0)
	_ = c.Set(ctx, "resp:runes", "2", 0)
	_ = c.Set(ctx, "session:x", "3", 0)
	_ = c.SAdd(ctx, "resp-tag:items", "resp:items")

	keys, err := c.Keys(ctx, "resp:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"resp:items", "resp:runes"}, keys)

	keys, _ = c.Keys(ctx, "session:x")
	assert.Equal(t, []string{"session:x"}, keys)
}

func TestSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SAdd(ctx, "s", "a", "b", "c"))
	members, err := c.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	ok, err := c.SIsMember(ctx, "s", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.SRem(ctx, "s", "b"))
	ok, _ = c.SIsMember(ctx, "s", "b")
	assert.False(t, ok)
}

func TestSetExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SAdd(ctx, "account-sessions:1", "tok"))
	require.NoError(t, c.Expire(ctx, "account-sessions:1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	members, err := c.SMembers(ctx, "account-sessions:1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestSweepDropsExpired(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "old", "v", time.Millisecond)
	_ = c.Set(ctx, "new", "v", 0)

	c.sweep(time.Now().Add(time.Second))

	_, ok := c.kv.Load("old")
	assert.False(t, ok)
	_, ok = c.kv.Load("new")
	assert.True(t, ok)
}
