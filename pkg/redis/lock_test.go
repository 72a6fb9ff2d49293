package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/motorlot/pkg/redis"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

var _ subscription.Locker = (*redis.Locker)(nil)

func setup(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig() redis.Config {
	return redis.Config{LockTTL: time.Minute, LockRetry: 5 * time.Millisecond, LockKeyPrefix: "test:"}
}

func TestLocker(t *testing.T) {
	t.Parallel()

	t.Run("acquire and release", func(t *testing.T) {
		t.Parallel()
		mr, client := setup(t)
		l := redis.NewLocker(client, testConfig())

		unlock, err := l.Lock(context.Background(), "subscription:1")
		require.NoError(t, err)
		assert.True(t, mr.Exists("test:subscription:1"))
		assert.Equal(t, time.Minute, mr.TTL("test:subscription:1"))

		unlock()
		assert.False(t, mr.Exists("test:subscription:1"))
		unlock()
	})

	t.Run("contention waits for release", func(t *testing.T) {
		t.Parallel()
		_, client := setup(t)
		l := redis.NewLocker(client, testConfig())

		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				unlock, err := l.Lock(ctx, "subscription:hot")
				if !assert.NoError(t, err) {
					return
				}
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside.Load())
	})

	t.Run("context deadline", func(t *testing.T) {
		t.Parallel()
		_, client := setup(t)
		l := redis.NewLocker(client, testConfig())

		unlock, err := l.Lock(context.Background(), "k")
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "k")
		assert.ErrorIs(t, err, redis.ErrLockNotAcquired)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("expired lease does not delete successor", func(t *testing.T) {
		t.Parallel()
		mr, client := setup(t)
		l := redis.NewLocker(client, testConfig())

		stale, err := l.Lock(context.Background(), "k")
		require.NoError(t, err)
		mr.FastForward(2 * time.Minute)

		fresh, err := l.Lock(context.Background(), "k")
		require.NoError(t, err)

		stale()
		assert.True(t, mr.Exists("test:k"), "stale unlock must not remove the new holder's key")
		fresh()
		assert.False(t, mr.Exists("test:k"))
	})

	t.Run("server error", func(t *testing.T) {
		t.Parallel()
		mr, client := setup(t)
		l := redis.NewLocker(client, testConfig())
		mr.SetError("LOADING")
		_, err := l.Lock(context.Background(), "k")
		assert.ErrorIs(t, err, redis.ErrLockNotAcquired)
	})
}

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		client, err := redis.Connect(context.Background(), redis.Config{
			ConnectionURL:  "redis://" + mr.Addr() + "/0",
			RetryAttempts:  1,
			ConnectTimeout: time.Second,
		})
		require.NoError(t, err)
		defer client.Close()
		assert.NoError(t, redis.Healthcheck(client)(context.Background()))
	})

	t.Run("bad url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{ConnectionURL: "mysql://nope"})
		assert.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
	})

	t.Run("empty url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{})
		assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		_, err := redis.Connect(context.Background(), redis.Config{
			ConnectionURL:  "redis://" + addr,
			RetryAttempts:  2,
			RetryInterval:  10 * time.Millisecond,
			ConnectTimeout: time.Second,
		})
		assert.ErrorIs(t, err, redis.ErrRedisNotReady)
	})

	t.Run("healthcheck failure", func(t *testing.T) {
		t.Parallel()
		mr, client := setup(t)
		mr.Close()
		assert.ErrorIs(t, redis.Healthcheck(client)(context.Background()), redis.ErrHealthcheckFailed)
	})
}
