package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another instance holds the lock.
var ErrLockHeld = errors.New("lock held by another instance")

// Locker runs fn while holding a named exclusive lock.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// RedisLocker is a redsync-backed Locker shared by every instance using the same Redis.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	logger *slog.Logger
}

// NewRedisLocker builds a distributed locker. The expiry bounds how long a crashed holder blocks
// others.
func NewRedisLocker(client *redis.Client, expiry time.Duration, logger *slog.Logger) *RedisLocker {
	if expiry <= 0 {
		expiry = time.Minute
	}
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), expiry: expiry, logger: logger}
}

// WithLock tries the lock once and returns ErrLockHeld when it is taken. Any other failure,
// such as Redis being unreachable, is returned as is.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(key, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("acquire %s: %w", key, ctx.Err())
		}
		if lockTaken(err) {
			return fmt.Errorf("%w: %s", ErrLockHeld, key)
		}
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			l.logger.Warn("release lock failed", "key", key, "error", err)
		}
	}()
	return fn(ctx)
}

func lockTaken(err error) bool {
	var taken *redsync.ErrTaken
	return errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed)
}

// LocalLocker serializes callers within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker builds an in-process Locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

// WithLock returns ErrLockHeld when key is already held in this process.
func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return ErrLockHeld
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
