package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/ledger"
	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/monitoring"
	"github.com/pnpbots/pnptv-app-sub006/service"
)

// StuckFinder lists candidate payments for the scanner.
type StuckFinder interface {
	FindStuck(ctx context.Context, q ledger.StuckQuery) ([]*models.Payment, error)
}

// Checker resolves and reconciles one payment.
type Checker interface {
	Check(ctx context.Context, paymentID string, src service.Source) (service.Decision, error)
}

// ScannerConfig holds the scan window and pacing.
type ScannerConfig struct {
	MinAge    time.Duration
	MaxAge    time.Duration
	BatchSize int
	ItemDelay time.Duration
	LockName  string
	LockTTL   time.Duration
	Providers []models.Provider
}

// Summary reports one scanner run. Each scanned payment lands in exactly
// one counter; payments the provider could not answer for count as Errors
// and stay pending.
type Summary struct {
	Scanned         int  `json:"scanned"`
	Recovered       int  `json:"recovered"`
	StillPending    int  `json:"still_pending"`
	Failed          int  `json:"failed"`
	Refunded        int  `json:"refunded"`
	AlreadyTerminal int  `json:"already_terminal"`
	Errors          int  `json:"errors"`
	LockContended   bool `json:"lock_contended,omitempty"`
}

// Scanner finds pending payments the provider may have settled without a
// webhook reaching us and reconciles them one at a time.
type Scanner struct {
	tracer trace.Tracer
	finder StuckFinder
	engine Checker
	locker Locker
	cfg    ScannerConfig
	now    func() time.Time
}

// NewScanner creates a scanner
func NewScanner(tracer trace.Tracer, finder StuckFinder, engine Checker, locker Locker, cfg ScannerConfig, now func() time.Time) *Scanner {
	if now == nil {
		now = time.Now
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = []models.Provider{models.ProviderEpayco}
	}
	return &Scanner{tracer: tracer, finder: finder, engine: engine, locker: locker, cfg: cfg, now: now}
}

// Run performs one scan under the scanner lock. If another run holds the
// lock it returns a summary with LockContended set and no error.
func (s *Scanner) Run(ctx context.Context) (Summary, error) {
	ctx, span := s.tracer.Start(ctx, "scanner.run")
	defer span.End()
	logger := logging.WithTraceContext(span)

	var sum Summary
	release, err := s.locker.Acquire(ctx, s.cfg.LockName, s.cfg.LockTTL)
	if errors.Is(err, models.ErrLockContention) {
		logger.Info("Scanner lock held by another run, skipping", zap.String("lock", s.cfg.LockName))
		monitoring.ScannerRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "skipped")))
		sum.LockContended = true
		return sum, nil
	}
	if err != nil {
		monitoring.ScannerRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		return sum, fmt.Errorf("acquire scanner lock: %w", err)
	}
	defer func() {
		// The run context may be done by now; the lock must still go.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(relCtx); err != nil {
			logger.Warn("Failed to release scanner lock", zap.Error(err))
		}
	}()

	now := s.now()
	payments, err := s.finder.FindStuck(ctx, ledger.StuckQuery{
		CreatedBefore: now.Add(-s.cfg.MinAge),
		CreatedAfter:  now.Add(-s.cfg.MaxAge),
		Providers:     s.cfg.Providers,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		monitoring.ScannerRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		return sum, fmt.Errorf("find stuck payments: %w", err)
	}

	for i, p := range payments {
		if i > 0 && s.cfg.ItemDelay > 0 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(s.cfg.ItemDelay):
			}
		}

		sum.Scanned++
		outcome := s.process(ctx, logger, p, &sum)
		monitoring.ScannerItems.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	monitoring.ScannerRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "completed")))
	span.SetAttributes(
		attribute.Int("scanner.scanned", sum.Scanned),
		attribute.Int("scanner.recovered", sum.Recovered),
		attribute.Int("scanner.errors", sum.Errors),
	)
	logger.Info("Stuck payment scan finished",
		zap.Int("scanned", sum.Scanned),
		zap.Int("recovered", sum.Recovered),
		zap.Int("still_pending", sum.StillPending),
		zap.Int("failed", sum.Failed),
		zap.Int("refunded", sum.Refunded),
		zap.Int("already_terminal", sum.AlreadyTerminal),
		zap.Int("errors", sum.Errors),
	)
	return sum, nil
}

func (s *Scanner) process(ctx context.Context, logger *zap.Logger, p *models.Payment, sum *Summary) string {
	d, err := s.check(ctx, p.ID)
	if err != nil {
		sum.Errors++
		logger.Error("Scanner failed to reconcile payment",
			zap.String("payment_id", p.ID),
			zap.String("provider_reference", p.ProviderReference),
			zap.Error(err),
		)
		return "error"
	}

	switch d.Action {
	case service.ActionComplete:
		sum.Recovered++
	case service.ActionFail, service.ActionTimeout:
		sum.Failed++
	case service.ActionRefund:
		sum.Refunded++
	case service.ActionAlreadyTerminal:
		sum.AlreadyTerminal++
	case service.ActionRetry:
		sum.Errors++
		logger.Warn("Provider unavailable during scan",
			zap.String("payment_id", p.ID),
			zap.String("provider_reference", p.ProviderReference),
			zap.Error(models.ErrProviderUnavailable),
			zap.String("message", d.Reason),
		)
	default:
		sum.StillPending++
	}
	return string(d.Action)
}

func (s *Scanner) check(ctx context.Context, paymentID string) (d service.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while checking payment: %v", r)
		}
	}()
	return s.engine.Check(ctx, paymentID, service.SourceScanner)
}
