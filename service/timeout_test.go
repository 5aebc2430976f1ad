package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/service"
)

func TestTimeoutPolicy_WindowSelection(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := service.DefaultTimeoutPolicy()

	unauthenticated := &models.Payment{Status: models.StatusPending, CreatedAt: created, Metadata: models.Metadata{}}
	authenticated := &models.Payment{
		Status:    models.StatusPending,
		CreatedAt: created,
		Metadata: models.Metadata{
			models.MetaThreeDSAuthenticatedAt: models.FormatTime(created.Add(2 * time.Minute)),
		},
	}

	tests := []struct {
		name       string
		payment    *models.Payment
		now        time.Time
		want       bool
		wantReason string
	}{
		{"unauthenticated, 5 minutes", unauthenticated, created.Add(5 * time.Minute), false, ""},
		{"unauthenticated, exactly 6 minutes", unauthenticated, created.Add(6 * time.Minute), true, models.ReasonThreeDSTimeoutUnauthenticated},
		{"unauthenticated, 7 minutes", unauthenticated, created.Add(7 * time.Minute), true, models.ReasonThreeDSTimeoutUnauthenticated},
		{"authenticated, 2 minutes after challenge", authenticated, created.Add(4 * time.Minute), false, ""},
		{"authenticated, 3 minutes after challenge", authenticated, created.Add(5 * time.Minute), true, models.ReasonThreeDSTimeoutAuthenticated},
		{"authenticated window measured from challenge, not creation", authenticated, created.Add(4*time.Minute + 59*time.Second), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.ShouldAbandon(tt.payment, tt.now))
			_, reason := policy.Evaluate(tt.payment, tt.now)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestTimeoutPolicy_OnlyPendingPayments(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &models.Payment{Status: models.StatusCompleted, CreatedAt: created}

	assert.False(t, service.DefaultTimeoutPolicy().ShouldAbandon(p, created.Add(time.Hour)))
}
