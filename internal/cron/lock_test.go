package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRedis struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{vals: map[string]string{}}
}

func (m *memoryRedis) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryRedis) DeleteIfEquals(ctx context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vals[key] != expected {
		return false, nil
	}
	delete(m.vals, key)
	return true, nil
}

func (m *memoryRedis) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
}

func TestLeaderLockSingleLeader(t *testing.T) {
	store := newMemoryRedis()
	first, err := NewLeaderLock(store, "lock:sweeper", time.Minute)
	require.NoError(t, err)
	second, err := NewLeaderLock(store, "lock:sweeper", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second instance must not lead while the lease is held")

	holder, err := second.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.instance, holder)

	require.NoError(t, second.Release(ctx))
	_, err = store.Get(ctx, "lock:sweeper")
	require.NoError(t, err, "a non-leader release must keep the lease")

	require.NoError(t, first.Release(ctx))
	holder, err = second.Holder(ctx)
	require.NoError(t, err)
	assert.Empty(t, holder)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaderLockKeepsLeaseTakenAfterExpiry(t *testing.T) {
	store := newMemoryRedis()
	stale, _ := NewLeaderLock(store, "lock:sweeper", time.Minute)
	fresh, _ := NewLeaderLock(store, "lock:sweeper", time.Minute)
	ctx := context.Background()

	ok, err := stale.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// the stale lease expires and another instance takes over
	store.expire("lock:sweeper")
	ok, err = fresh.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale.Release(ctx))
	value, err := store.Get(ctx, "lock:sweeper")
	require.NoError(t, err)
	assert.Equal(t, fresh.lease, value)
}

func TestNewLeaderLockValidates(t *testing.T) {
	_, err := NewLeaderLock(nil, "lock:sweeper", time.Minute)
	assert.Error(t, err)
	_, err = NewLeaderLock(newMemoryRedis(), "", time.Minute)
	assert.Error(t, err)

	l, err := NewLeaderLock(newMemoryRedis(), "lock:sweeper", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, l.TTL())
}
