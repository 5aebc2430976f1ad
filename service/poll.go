package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
)

// Poll answers a waiting checkout page. Terminal payments return without a
// provider call. A pending payment is checked inline; any failure of that
// check reports pending so the client keeps polling. Only a missing
// payment is returned as an error.
func (e *Engine) Poll(ctx context.Context, paymentID string) (models.PollResponse, error) {
	p, err := e.ledger.Get(ctx, paymentID)
	if err != nil {
		return models.PollResponse{}, err
	}
	resp := models.PollResponse{PaymentID: p.ID, Status: p.Status}
	if p.Status.IsTerminal() {
		return resp, nil
	}
	if !p.HasReference() {
		resp.Stuck = true
		resp.Reason = models.PollReasonNoReference
		return resp, nil
	}

	d, err := e.Check(ctx, p.ID, SourcePoll)
	if err != nil {
		logging.WithContext(ctx).Warn("Poll check failed, reporting pending",
			zap.String("payment_id", p.ID),
			zap.String("provider_reference", p.ProviderReference),
			zap.Error(err),
		)
		resp.Reason = models.PollReasonProviderUnavailable
		return resp, nil
	}

	resp.Status = d.Status
	if d.Status.IsTerminal() {
		return resp, nil
	}
	switch {
	case d.Action == ActionRetry:
		resp.Reason = models.PollReasonProviderUnavailable
	case !hasThreeDS(p):
		resp.Reason = models.PollReasonAwaitingThreeDS
	default:
		resp.Reason = models.PollReasonAwaitingProvider
	}
	return resp, nil
}

func hasThreeDS(p *models.Payment) bool {
	_, ok := p.Metadata.Get(models.MetaThreeDSAuthenticatedAt)
	return ok
}
