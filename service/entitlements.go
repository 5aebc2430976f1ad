package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/monitoring"
)

// EntitlementActivator grants the user the plan a completed payment bought.
// Implementations must tolerate being called more than once for the same
// grant; the dispatcher only guarantees that a grant is never delivered
// twice after a successful call was recorded.
type EntitlementActivator interface {
	Activate(ctx context.Context, grant models.EntitlementGrant) error
}

// GrantStore is the durable outbox of owed entitlements.
type GrantStore interface {
	ClaimGrant(ctx context.Context, paymentID string, now time.Time, lease time.Duration) (*models.EntitlementGrant, error)
	MarkGrantDelivered(ctx context.Context, grantID string, at time.Time) error
	ReleaseGrant(ctx context.Context, grantID, lastError string) error
	UndeliveredGrants(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// RedeliverySummary counts the outcome of one redelivery pass.
type RedeliverySummary struct {
	Pending   int `json:"pending"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// EntitlementDispatcher delivers grants written by completed transitions.
type EntitlementDispatcher struct {
	store     GrantStore
	activator EntitlementActivator
	lease     time.Duration
	now       func() time.Time
}

// NewEntitlementDispatcher creates a dispatcher. A claimed grant is leased
// for lease; a crashed delivery becomes claimable again once it expires.
func NewEntitlementDispatcher(store GrantStore, activator EntitlementActivator, lease time.Duration, now func() time.Time) *EntitlementDispatcher {
	if now == nil {
		now = time.Now
	}
	if lease <= 0 {
		lease = time.Minute
	}
	return &EntitlementDispatcher{store: store, activator: activator, lease: lease, now: now}
}

// Deliver activates the grant of a completed payment if nobody else holds
// it and it was not delivered yet.
func (d *EntitlementDispatcher) Deliver(ctx context.Context, paymentID string) error {
	grant, err := d.store.ClaimGrant(ctx, paymentID, d.now(), d.lease)
	if err != nil {
		return fmt.Errorf("claim grant for payment %s: %w", paymentID, err)
	}
	if grant == nil {
		return nil
	}

	if err := d.activate(ctx, *grant); err != nil {
		monitoring.EntitlementDeliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		if relErr := d.store.ReleaseGrant(ctx, grant.ID, err.Error()); relErr != nil {
			logging.WithContext(ctx).Error("Failed to release entitlement grant",
				zap.String("grant_id", grant.ID),
				zap.Error(relErr),
			)
		}
		return err
	}

	if err := d.store.MarkGrantDelivered(ctx, grant.ID, d.now()); err != nil {
		return fmt.Errorf("mark grant %s delivered: %w", grant.ID, err)
	}
	monitoring.EntitlementDeliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "delivered")))
	logging.WithContext(ctx).Info("Entitlement activated",
		zap.String("payment_id", paymentID),
		zap.String("user_id", grant.UserID),
		zap.String("plan_id", grant.PlanID),
		zap.Time("expires_at", grant.ExpiresAt),
		zap.Int("attempt", grant.Attempts),
	)
	return nil
}

func (d *EntitlementDispatcher) activate(ctx context.Context, grant models.EntitlementGrant) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("entitlement activator panicked: %v", r)
		}
	}()
	if d.activator == nil {
		return errors.New("no entitlement activator configured")
	}
	return d.activator.Activate(ctx, grant)
}

// Redeliver retries up to limit grants whose earlier delivery failed or
// never ran.
func (d *EntitlementDispatcher) Redeliver(ctx context.Context, limit int) (RedeliverySummary, error) {
	var sum RedeliverySummary
	ids, err := d.store.UndeliveredGrants(ctx, d.now(), limit)
	if err != nil {
		return sum, fmt.Errorf("list undelivered grants: %w", err)
	}
	sum.Pending = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		if err := d.Deliver(ctx, id); err != nil {
			sum.Failed++
			logging.WithContext(ctx).Warn("Entitlement redelivery failed",
				zap.String("payment_id", id),
				zap.Error(err),
			)
			continue
		}
		sum.Delivered++
	}
	return sum, nil
}
