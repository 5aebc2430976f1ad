package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnpbots/pnptv-app-sub006/jobs"
	"github.com/pnpbots/pnptv-app-sub006/models"
)

func newRedisLocker(t *testing.T) (*jobs.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return jobs.NewRedisLocker(rdb), mr
}

func TestRedisLocker_IsExclusive(t *testing.T) {
	ctx := context.Background()
	locker, _ := newRedisLocker(t)

	release, err := locker.Acquire(ctx, "scan", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "scan", time.Minute)
	assert.ErrorIs(t, err, models.ErrLockContention)

	other, err := locker.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err, "locks are per name")
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := locker.Acquire(ctx, "scan", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLocker_ExpiresWithoutRelease(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t)

	_, err := locker.Acquire(ctx, "scan", 30*time.Minute)
	require.NoError(t, err)

	mr.FastForward(31 * time.Minute)

	release, err := locker.Acquire(ctx, "scan", 30*time.Minute)
	require.NoError(t, err, "a crashed holder does not wedge later runs past the expiry")
	require.NoError(t, release(ctx))
}

func TestRedisLocker_OutageIsNotContention(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t)
	mr.Close()

	release, err := locker.Acquire(ctx, "scan", time.Minute)
	require.Error(t, err)
	assert.Nil(t, release)
	assert.NotErrorIs(t, err, models.ErrLockContention, "an unreachable redis must surface as a failure")
}
