package service

import (
	"strings"
	"time"

	"github.com/pnpbots/pnptv-app-sub006/models"
)

// Action is what reconciliation decided to do with a payment.
type Action string

const (
	ActionComplete        Action = "complete"
	ActionFail            Action = "fail"
	ActionRefund          Action = "refund"
	ActionTimeout         Action = "timeout"
	ActionKeepPending     Action = "keep_pending"
	ActionRetry           Action = "retry"
	ActionAmountMismatch  Action = "amount_mismatch"
	ActionAlreadyTerminal Action = "already_terminal"
	ActionNoReference     Action = "no_reference"
)

// Source identifies the entry point that triggered reconciliation.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourcePoll     Source = "poll"
	SourceScanner  Source = "scanner"
	SourceRecovery Source = "recovery"
)

// Decision is the result of reconciling one payment.
type Decision struct {
	PaymentID     string
	Action        Action
	From          models.Status
	To            models.Status
	Status        models.Status // status after the call
	Applied       bool          // this call performed the write
	ProviderState models.ProviderState
	Reason        string

	RequiresManualAttention bool

	metadata models.Metadata
}

// Terminal reports whether the decision moves the payment out of pending.
func (d Decision) Terminal() bool {
	return d.To.IsTerminal() && d.From == models.StatusPending
}

// Decide maps a payment and a provider resolution onto a decision. It does
// no I/O; the engine applies the result.
func Decide(p *models.Payment, res models.Resolution, policy TimeoutPolicy, now time.Time) Decision {
	d := Decision{
		PaymentID:     p.ID,
		From:          p.Status,
		To:            p.Status,
		Status:        p.Status,
		ProviderState: res.State,
		metadata:      models.Metadata{},
	}

	if p.Status.IsTerminal() {
		d.Action = ActionAlreadyTerminal
		return d
	}

	if !res.OK {
		last, seen := p.Metadata.Get(models.MetaProviderState)
		if !seen || last == string(models.ProviderPending) {
			if abandon, reason := policy.Evaluate(p, now); abandon {
				return timeout(d, reason, now)
			}
		}
		d.Action = ActionRetry
		d.Reason = res.Message
		return d
	}

	switch res.State {
	case models.ProviderApproved:
		if mismatch := amountMismatch(p, res); mismatch != "" {
			d.Action = ActionAmountMismatch
			d.Reason = mismatch
			d.RequiresManualAttention = true
			d.metadata[models.MetaAmountMismatch] = mismatch
			d.metadata[models.MetaRequiresAttention] = "true"
			return d
		}
		d.Action = ActionComplete
		d.To = models.StatusCompleted
	case models.ProviderRejected, models.ProviderFailed, models.ProviderAbandoned, models.ProviderCancelled:
		d.Action = ActionFail
		d.To = models.StatusFailed
		d.Reason = res.Message
	case models.ProviderReversed:
		d.Action = ActionRefund
		d.To = models.StatusRefunded
	case models.ProviderPending:
		if abandon, reason := policy.Evaluate(p, now); abandon {
			return timeout(d, reason, now)
		}
		d.Action = ActionKeepPending
	default:
		d.Action = ActionRetry
		d.Reason = "unrecognized provider state " + string(res.State)
	}
	return d
}

func timeout(d Decision, reason string, now time.Time) Decision {
	d.Action = ActionTimeout
	d.To = models.StatusFailed
	d.Reason = reason
	d.metadata[models.MetaAbandonmentReason] = reason
	d.metadata[models.MetaAbandonedAt] = models.FormatTime(now)
	return d
}

// An empty result means the provider's figures agree with the ledger or
// the provider did not report them.
func amountMismatch(p *models.Payment, res models.Resolution) string {
	var parts []string
	if res.Amount != nil && !res.Amount.Equal(p.Amount) {
		parts = append(parts, "amount "+res.Amount.String()+" != "+p.Amount.String())
	}
	if res.Currency != "" && p.Currency != "" && !strings.EqualFold(res.Currency, p.Currency) {
		parts = append(parts, "currency "+res.Currency+" != "+p.Currency)
	}
	return strings.Join(parts, "; ")
}
