package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
)

// Recover is the operator-triggered check of a single payment. It queries
// the provider and reconciles like the scanner does, stamping the operator
// into the audit metadata. A completion found this way is never a real
// webhook replay, so it is always flagged for manual attention.
func (e *Engine) Recover(ctx context.Context, paymentID, operator string) (Decision, error) {
	p, err := e.ledger.Get(ctx, paymentID)
	if err != nil {
		return Decision{}, err
	}
	if p.Status.IsTerminal() {
		return Decide(p, models.Resolution{}, e.policy, e.now()), nil
	}
	if !p.HasReference() {
		return Decision{}, fmt.Errorf("payment %s: %w", p.ID, models.ErrNoProviderReference)
	}
	resolver, ok := e.resolvers.For(p.Provider)
	if !ok {
		return Decision{}, fmt.Errorf("payment %s: provider %q is not reconcilable", p.ID, p.Provider)
	}

	res := resolver.Resolve(ctx, p.ProviderReference)
	if operator == "" {
		operator = "unknown"
	}
	d, err := e.Reconcile(ctx, p.ID, Observation{
		Resolution: res,
		Source:     SourceRecovery,
		Metadata:   models.Metadata{models.MetaRecoveredBy: operator},
	})
	if err != nil {
		return d, err
	}
	if d.Applied && d.To == models.StatusCompleted {
		d.RequiresManualAttention = true
	}

	logging.WithContext(ctx).Info("Manual recovery finished",
		zap.String("payment_id", p.ID),
		zap.String("operator", operator),
		zap.String("action", string(d.Action)),
		zap.Bool("applied", d.Applied),
		zap.Bool("provider_ok", res.OK),
	)
	return d, nil
}
