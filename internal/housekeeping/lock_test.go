package housekeeping

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	values map[string]string
}

func newMapStore() *mapStore { return &mapStore{values: map[string]string{}} }

func (m *mapStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *mapStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *mapStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestRedisLockExclusive(t *testing.T) {
	store := newMapStore()
	ctx := context.Background()
	a, err := NewRedisLock(store, "tc:housekeeping:lock", time.Minute)
	require.NoError(t, err)
	b, err := NewRedisLock(store, "tc:housekeeping:lock", time.Minute)
	require.NoError(t, err)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx))
	assert.Contains(t, store.values, "tc:housekeeping:lock")

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockLeavesForeignToken(t *testing.T) {
	store := newMapStore()
	ctx := context.Background()
	l, err := NewRedisLock(store, "k", time.Minute)
	require.NoError(t, err)

	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// expired and taken over by another replica
	store.values["k"] = "someone-else"
	require.NoError(t, l.Release(ctx))
	assert.Equal(t, "someone-else", store.values["k"])
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", 0)
	assert.Error(t, err)
	_, err = NewRedisLock(newMapStore(), "", 0)
	assert.Error(t, err)
}
