package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/monitoring"
	"github.com/pnpbots/pnptv-app-sub006/service"
)

// SweepStore is the ledger surface the sweeper needs.
type SweepStore interface {
	SweepAbandoned(ctx context.Context, cutoff, at time.Time, runID string) (int64, error)
	ListSweepRun(ctx context.Context, runID string) ([]*models.Payment, error)
}

// SweepSummary reports one sweeper run.
type SweepSummary struct {
	RunID     string `json:"run_id"`
	Abandoned int64  `json:"abandoned"`
}

// Sweeper force-abandons payments pending past the ceiling. It takes no
// lock; its status = pending predicate excludes whatever the scanner
// already settled.
type Sweeper struct {
	tracer   trace.Tracer
	store    SweepStore
	notifier service.Notifier
	ceiling  time.Duration
	now      func() time.Time
}

// NewSweeper creates a sweeper
func NewSweeper(tracer trace.Tracer, store SweepStore, notifier service.Notifier, ceiling time.Duration, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{tracer: tracer, store: store, notifier: notifier, ceiling: ceiling, now: now}
}

// Run abandons every payment created more than the ceiling ago that is
// still pending, then notifies their owners.
func (s *Sweeper) Run(ctx context.Context) (SweepSummary, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.run")
	defer span.End()
	logger := logging.WithTraceContext(span)

	now := s.now()
	sum := SweepSummary{RunID: uuid.NewString()}
	n, err := s.store.SweepAbandoned(ctx, now.Add(-s.ceiling), now, sum.RunID)
	if err != nil {
		return sum, fmt.Errorf("sweep abandoned payments: %w", err)
	}
	sum.Abandoned = n
	span.SetAttributes(attribute.Int64("sweeper.abandoned", n))
	if n == 0 {
		return sum, nil
	}
	monitoring.SweeperAbandoned.Add(ctx, n)

	swept, err := s.store.ListSweepRun(ctx, sum.RunID)
	if err != nil {
		logger.Error("Failed to list swept payments, owners not notified",
			zap.String("run_id", sum.RunID),
			zap.Error(err),
		)
		return sum, nil
	}

	outcomes := make([]models.Outcome, 0, len(swept))
	for _, p := range swept {
		outcomes = append(outcomes, models.Outcome{
			PaymentID: p.ID,
			UserID:    p.UserID,
			PlanID:    p.PlanID,
			Status:    p.Status,
			Reason:    models.ReasonPendingCeilingExceeded,
		})
	}
	service.NotifyAll(ctx, s.notifier, outcomes)

	logger.Info("Abandoned payment sweep finished",
		zap.String("run_id", sum.RunID),
		zap.Int64("abandoned", n),
		zap.Duration("ceiling", s.ceiling),
	)
	return sum, nil
}
