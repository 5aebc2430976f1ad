package service

import (
	"time"

	"github.com/pnpbots/pnptv-app-sub006/models"
)

// TimeoutPolicy decides when a payment still pending at the provider has
// waited long enough to be declared abandoned. Before the 3DS challenge is
// passed the wait is measured from creation; after it, from the recorded
// authentication time, with a shorter window.
type TimeoutPolicy struct {
	Unauthenticated time.Duration
	Authenticated   time.Duration
}

// DefaultTimeoutPolicy returns the 6 minute / 3 minute windows.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Unauthenticated: 6 * time.Minute,
		Authenticated:   3 * time.Minute,
	}
}

// ShouldAbandon reports whether the applicable window has elapsed at now.
func (tp TimeoutPolicy) ShouldAbandon(p *models.Payment, now time.Time) bool {
	abandon, _ := tp.Evaluate(p, now)
	return abandon
}

// Evaluate is ShouldAbandon plus the abandonment reason to record.
func (tp TimeoutPolicy) Evaluate(p *models.Payment, now time.Time) (bool, string) {
	if p.Status != models.StatusPending {
		return false, ""
	}
	if authAt, ok := p.Metadata.Time(models.MetaThreeDSAuthenticatedAt); ok {
		if now.Sub(authAt) >= tp.Authenticated {
			return true, models.ReasonThreeDSTimeoutAuthenticated
		}
		return false, ""
	}
	if now.Sub(p.CreatedAt) >= tp.Unauthenticated {
		return true, models.ReasonThreeDSTimeoutUnauthenticated
	}
	return false, ""
}
