package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
)

// Scheduler runs jobs on cron specs with seconds precision.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates an idle scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{cron: cron.New(cron.WithSeconds())}
}

// Add registers run under spec. Each invocation gets its own context
// bounded by timeout. Overlapping invocations of the same job are skipped.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, run func(ctx context.Context) error) error {
	job := cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		logging.Info("Scheduled job starting", zap.String("job", name))
		if err := run(ctx); err != nil {
			logging.Error("Scheduled job failed",
				zap.String("job", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		logging.Info("Scheduled job finished",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
		)
	})

	wrapped := cron.NewChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})).Then(job)
	_, err := s.cron.AddJob(spec, wrapped)
	return err
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLogger routes robfig/cron's logging to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.GetLogger().Sugar().Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.GetLogger().Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
