package redisclient

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

func TestWithKeyLockRunsAndReleases(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisKeyLocker(client, 5*time.Second)

	ran := false
	err := locker.WithKeyLock(context.Background(), "booking:a1", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:booking:a1"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:booking:a1"))
}

func TestWithKeyLockContended(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisKeyLocker(client, 5*time.Second)

	err := locker.WithKeyLock(context.Background(), "k", func(ctx context.Context) error {
		inner := locker.WithKeyLock(ctx, "k", func(context.Context) error { return nil })
		assert.True(t, errors.Is(inner, ErrLockNotAcquired))
		return nil
	})
	require.NoError(t, err)
}

func TestWithKeyLockDoesNotReleaseForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisKeyLocker(client, 5*time.Second)

	err := locker.WithKeyLock(context.Background(), "k", func(ctx context.Context) error {
		// another holder took over after our lease expired
		return mr.Set("lock:k", "someone-else")
	})
	require.NoError(t, err)

	v, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}
