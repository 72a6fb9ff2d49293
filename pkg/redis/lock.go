package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/motorlot/pkg/logger"
)

// Only the holder that set the token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const releaseTimeout = 5 * time.Second

// Locker is a distributed mutex keyed by string. It lets several billing
// processes share one single-writer section per subscription.
//
// The lock is a SET NX PX key holding a random token. Expiry frees keys of
// holders that died; release compares the token so a holder whose lease
// already expired cannot delete a successor's lock.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	prefix string
	logger *slog.Logger
}

type LockerOption func(*Locker)

func WithLockTTL(ttl time.Duration) LockerOption {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithLockRetry(d time.Duration) LockerOption {
	return func(l *Locker) {
		if d > 0 {
			l.retry = d
		}
	}
}

func WithLockPrefix(prefix string) LockerOption {
	return func(l *Locker) { l.prefix = prefix }
}

func WithLockLogger(log *slog.Logger) LockerOption {
	return func(l *Locker) {
		if log != nil {
			l.logger = log
		}
	}
}

// NewLocker builds a Locker. Options override the values from cfg.
func NewLocker(client redis.UniversalClient, cfg Config, opts ...LockerOption) *Locker {
	l := &Locker{
		client: client,
		ttl:    60 * time.Second,
		retry:  50 * time.Millisecond,
		prefix: cfg.LockKeyPrefix,
		logger: slog.Default(),
	}
	WithLockTTL(cfg.LockTTL)(l)
	WithLockRetry(cfg.LockRetry)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until key is acquired or ctx ends. The returned unlock is
// idempotent.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	full := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Join(ErrLockNotAcquired, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(full, token) })
	}, nil
}

func (l *Locker) release(key, token string) {
	// The caller's context may already be done; release must still run.
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "failed to release redis lock",
			slog.String("key", key),
			logger.Error(err),
		)
	}
}
