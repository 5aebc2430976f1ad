package jobs_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnpbots/pnptv-app-sub006/jobs"
)

func TestScheduler_RunsJobs(t *testing.T) {
	s := jobs.NewScheduler()

	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "* * * * * *", time.Second, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "every run is bounded")
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := jobs.NewScheduler()
	assert.Error(t, s.Add("bad", "every five minutes", time.Second, func(context.Context) error { return nil }))
	// Five-field specs are not accepted; the scheduler runs with seconds.
	assert.Error(t, s.Add("short", "*/5 * * * *", time.Second, func(context.Context) error { return nil }))
}
