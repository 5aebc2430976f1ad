package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/pnpbots/pnptv-app-sub006/models"
)

// Locker hands out process-wide advisory locks.
type Locker interface {
	// Acquire takes the named lock for at most ttl. It does not wait: if the
	// lock is held it returns an error wrapping models.ErrLockContention;
	// any other failure means the lock service could not be reached.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RedisLocker implements Locker with redsync on a single redis.
type RedisLocker struct {
	rs *redsync.Redsync
}

// NewRedisLocker creates a locker on rdb
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	pool := goredis.NewPool(rdb)
	return &RedisLocker{rs: redsync.New(pool)}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, fmt.Errorf("%w: %s", models.ErrLockContention, name)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return func(ctx context.Context) error {
		_, err := mutex.UnlockContext(ctx)
		return err
	}, nil
}
