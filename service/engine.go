package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/monitoring"
	"github.com/pnpbots/pnptv-app-sub006/provider"
)

const maxCASAttempts = 5

// Ledger is the storage the engine reconciles against.
type Ledger interface {
	Get(ctx context.Context, id string) (*models.Payment, error)
	Transition(ctx context.Context, t models.Transition) error
	MergeMetadata(ctx context.Context, id string, expectedVersion int64, patch models.Metadata, at time.Time) error
	AttachReference(ctx context.Context, id, reference string, at time.Time) error
}

// Notifier tells the user-facing side about terminal outcomes.
type Notifier interface {
	Notify(ctx context.Context, outcome models.Outcome) error
}

// Observation is one provider answer fed into reconciliation, plus the
// metadata the entry point wants recorded with it.
type Observation struct {
	Resolution models.Resolution
	Source     Source
	Metadata   models.Metadata
}

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	Policy                 TimeoutPolicy
	DefaultEntitlementDays int
	Now                    func() time.Time
}

// Engine is the reconciliation engine. Webhooks, polls, the scanner and
// manual recovery all go through it; it keeps no per-payment state and
// relies on the ledger's compare-and-set writes for safety.
type Engine struct {
	tracer       trace.Tracer
	ledger       Ledger
	resolvers    provider.Registry
	entitlements *EntitlementDispatcher
	notifier     Notifier
	policy       TimeoutPolicy
	defaultDays  int
	now          func() time.Time
}

// NewEngine creates a reconciliation engine
func NewEngine(tracer trace.Tracer, ledger Ledger, resolvers provider.Registry, entitlements *EntitlementDispatcher, notifier Notifier, cfg EngineConfig) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultEntitlementDays <= 0 {
		cfg.DefaultEntitlementDays = 30
	}
	if cfg.Policy == (TimeoutPolicy{}) {
		cfg.Policy = DefaultTimeoutPolicy()
	}
	return &Engine{
		tracer:       tracer,
		ledger:       ledger,
		resolvers:    resolvers,
		entitlements: entitlements,
		notifier:     notifier,
		policy:       cfg.Policy,
		defaultDays:  cfg.DefaultEntitlementDays,
		now:          cfg.Now,
	}
}

// Policy returns the timeout policy in force.
func (e *Engine) Policy() TimeoutPolicy {
	return e.policy
}

// Check resolves the provider state of a pending payment and reconciles it.
func (e *Engine) Check(ctx context.Context, paymentID string, src Source) (Decision, error) {
	p, err := e.ledger.Get(ctx, paymentID)
	if err != nil {
		return Decision{}, err
	}
	if p.Status.IsTerminal() {
		return Decide(p, models.Resolution{}, e.policy, e.now()), nil
	}
	if !p.HasReference() {
		return Decision{
			PaymentID: p.ID,
			Action:    ActionNoReference,
			From:      p.Status,
			To:        p.Status,
			Status:    p.Status,
		}, nil
	}

	resolver, ok := e.resolvers.For(p.Provider)
	if !ok {
		return Decision{}, fmt.Errorf("payment %s: provider %q is not reconcilable", p.ID, p.Provider)
	}

	res := resolver.Resolve(ctx, p.ProviderReference)
	return e.Reconcile(ctx, p.ID, Observation{Resolution: res, Source: src})
}

// Reconcile applies a provider observation to a payment exactly once. The
// current row is re-read right before every write and the write is
// conditioned on it, so a concurrent caller that got there first turns
// this call into a no-op.
func (e *Engine) Reconcile(ctx context.Context, paymentID string, obs Observation) (Decision, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", paymentID),
		attribute.String("reconcile.source", string(obs.Source)),
		attribute.Bool("provider.ok", obs.Resolution.OK),
		attribute.String("provider.state", string(obs.Resolution.State)),
	)
	logger := logging.WithTraceContext(span)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		p, err := e.ledger.Get(ctx, paymentID)
		if err != nil {
			return Decision{}, err
		}

		now := e.now()
		d := Decide(p, obs.Resolution, e.policy, now)
		if d.Action == ActionAlreadyTerminal {
			logger.Info("Payment already terminal, skipping",
				zap.String("payment_id", p.ID),
				zap.String("status", string(p.Status)),
				zap.String("source", string(obs.Source)),
			)
			return d, nil
		}

		patch := e.observationMetadata(p, obs, d, now)

		if d.Terminal() {
			t := models.Transition{
				PaymentID:       p.ID,
				ExpectedVersion: p.Version,
				To:              d.To,
				Metadata:        patch,
				At:              now,
			}
			if d.To == models.StatusCompleted {
				t.Grant = e.grantFor(p, now)
			}

			err := e.ledger.Transition(ctx, t)
			if errors.Is(err, models.ErrVersionConflict) {
				logger.Info("Lost compare-and-set, re-reading payment",
					zap.String("payment_id", p.ID),
					zap.Int("attempt", attempt+1),
				)
				continue
			}
			if err != nil {
				return Decision{}, fmt.Errorf("apply %s to payment %s: %w", d.To, p.ID, err)
			}

			d.Applied = true
			d.Status = d.To
			e.afterTransition(ctx, logger, p, d, obs.Source)
			return d, nil
		}

		if len(patch) == 0 {
			return d, nil
		}
		err = e.ledger.MergeMetadata(ctx, p.ID, p.Version, patch, now)
		if errors.Is(err, models.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("record observation on payment %s: %w", p.ID, err)
		}
		if d.Action == ActionAmountMismatch {
			logger.Error("Provider amount does not match ledger, manual attention required",
				zap.String("payment_id", p.ID),
				zap.String("mismatch", d.Reason),
				zap.String("source", string(obs.Source)),
			)
		}
		return d, nil
	}

	return Decision{}, fmt.Errorf("reconcile payment %s: %w", paymentID, models.ErrVersionConflict)
}

// AttachReference stores the provider reference checkout obtained.
func (e *Engine) AttachReference(ctx context.Context, paymentID, reference string) error {
	return e.ledger.AttachReference(ctx, paymentID, reference, e.now())
}

// RecordThreeDSAuthentication records when the user passed the bank
// challenge. The first recorded time wins.
func (e *Engine) RecordThreeDSAuthentication(ctx context.Context, paymentID string, at time.Time) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		p, err := e.ledger.Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, models.ErrAlreadyTerminal)
		}
		if _, ok := p.Metadata.Get(models.MetaThreeDSAuthenticatedAt); ok {
			return nil
		}
		err = e.ledger.MergeMetadata(ctx, p.ID, p.Version, models.Metadata{
			models.MetaThreeDSAuthenticatedAt: models.FormatTime(at),
		}, e.now())
		if errors.Is(err, models.ErrVersionConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("record 3ds on payment %s: %w", paymentID, models.ErrVersionConflict)
}

func (e *Engine) observationMetadata(p *models.Payment, obs Observation, d Decision, now time.Time) models.Metadata {
	patch := models.Metadata{}
	for k, v := range obs.Metadata {
		patch[k] = v
	}
	if obs.Resolution.OK {
		patch[models.MetaProviderState] = string(obs.Resolution.State)
		patch[models.MetaProviderCheckedAt] = models.FormatTime(now)
		if obs.Resolution.Message != "" {
			patch[models.MetaProviderMessage] = obs.Resolution.Message
		}
	}
	if at := obs.Resolution.ThreeDSAuthenticatedAt; at != nil {
		if _, ok := p.Metadata.Get(models.MetaThreeDSAuthenticatedAt); !ok {
			patch[models.MetaThreeDSAuthenticatedAt] = models.FormatTime(*at)
		}
	}
	for k, v := range d.metadata {
		patch[k] = v
	}
	if obs.Source == SourceRecovery && d.Action == ActionComplete {
		if _, hooked := p.Metadata.Get(models.MetaWebhookReceivedAt); !hooked {
			patch[models.MetaRecoveredWithoutHook] = "true"
		}
		patch[models.MetaRequiresAttention] = "true"
	}
	return patch
}

func (e *Engine) grantFor(p *models.Payment, now time.Time) *models.EntitlementGrant {
	days := e.defaultDays
	if v, ok := p.Metadata.Get(models.MetaPlanDurationDays); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	return &models.EntitlementGrant{
		PaymentID: p.ID,
		UserID:    p.UserID,
		PlanID:    p.PlanID,
		ExpiresAt: now.AddDate(0, 0, days),
	}
}

func (e *Engine) afterTransition(ctx context.Context, logger *zap.Logger, p *models.Payment, d Decision, src Source) {
	monitoring.PaymentTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", string(d.From)),
			attribute.String("to", string(d.To)),
			attribute.String("source", string(src)),
		),
	)
	logger.Info("Payment transitioned",
		zap.String("payment_id", p.ID),
		zap.String("provider_reference", p.ProviderReference),
		zap.String("from", string(d.From)),
		zap.String("to", string(d.To)),
		zap.String("action", string(d.Action)),
		zap.String("source", string(src)),
		zap.String("reason", d.Reason),
	)

	if d.To == models.StatusCompleted && e.entitlements != nil {
		// The grant is already durable; a failure here is retried by the
		// redelivery job.
		if err := e.entitlements.Deliver(ctx, p.ID); err != nil {
			logger.Warn("Entitlement activation deferred to redelivery",
				zap.String("payment_id", p.ID),
				zap.Error(err),
			)
		}
	}

	notifyBestEffort(ctx, e.notifier, models.Outcome{
		PaymentID: p.ID,
		UserID:    p.UserID,
		PlanID:    p.PlanID,
		Status:    d.To,
		Reason:    d.Reason,
	})
}
