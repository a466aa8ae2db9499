package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"tracked-mail-relay-go/internal/lock"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisWithLockWaitsForHolder(t *testing.T) {
	_, client := newRedis(t)

	locker := lock.Redis{R: client, RetryBackoff: 5 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		err := locker.WithLock(ctx, "sync", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstDone

	go func() {
		err := locker.WithLock(ctx, "sync", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	close(releaseFirst)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestRedisWithLockFailsFastWithoutBackoff(t *testing.T) {
	mr, client := newRedis(t)
	require.NoError(t, mr.Set("sync", "someone-else"))

	called := false
	err := lock.Redis{R: client}.WithLock(context.Background(), "sync", time.Minute, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, lock.ErrLocked)
	require.False(t, called)
}

func TestRedisWithLockReleasesOnError(t *testing.T) {
	mr, client := newRedis(t)
	boom := errors.New("boom")

	err := lock.Redis{R: client}.WithLock(context.Background(), "sync", time.Minute, func(context.Context) error {
		require.True(t, mr.Exists("sync"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("sync"))
}

func TestRedisWithLockKeepsForeignToken(t *testing.T) {
	mr, client := newRedis(t)

	err := lock.Redis{R: client}.WithLock(context.Background(), "sync", time.Minute, func(context.Context) error {
		// lock expired and was taken over by another process
		require.NoError(t, mr.Set("sync", "other-token"))
		return nil
	})
	require.NoError(t, err)

	val, err := mr.Get("sync")
	require.NoError(t, err)
	require.Equal(t, "other-token", val)
}

func TestLocalWithLock(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	err := l.WithLock(ctx, "sync", 0, func(ctx context.Context) error {
		inner := l.WithLock(ctx, "sync", 0, func(context.Context) error { return nil })
		require.ErrorIs(t, inner, lock.ErrLocked)

		other := l.WithLock(ctx, "other", 0, func(context.Context) error { return nil })
		require.NoError(t, other)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, l.WithLock(ctx, "sync", 0, func(context.Context) error { return nil }))
}
