package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pnpbots/pnptv-app-sub006/models"
)

func TestMetadata_MergeKeepsExistingKeys(t *testing.T) {
	base := models.Metadata{models.MetaProviderState: "Pending", models.MetaPlanDurationDays: "30"}
	merged := base.Merge(models.Metadata{models.MetaProviderState: "Approved"})

	assert.Equal(t, "Approved", merged[models.MetaProviderState])
	assert.Equal(t, "30", merged[models.MetaPlanDurationDays])
	assert.Equal(t, "Pending", base[models.MetaProviderState], "merge never mutates the receiver")
}

func TestMetadata_Time(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 2, 0, 500, time.FixedZone("COT", -5*3600))
	m := models.Metadata{models.MetaThreeDSAuthenticatedAt: models.FormatTime(at), models.MetaAbandonedAt: "garbage"}

	got, ok := m.Time(models.MetaThreeDSAuthenticatedAt)
	assert.True(t, ok)
	assert.True(t, got.Equal(at))

	_, ok = m.Time(models.MetaAbandonedAt)
	assert.False(t, ok)
	_, ok = m.Time(models.MetaSweepRunID)
	assert.False(t, ok)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, models.StatusPending.IsTerminal())
	for _, s := range []models.Status{models.StatusCompleted, models.StatusFailed, models.StatusRefunded, models.StatusAbandoned} {
		assert.True(t, s.IsTerminal(), s)
	}
}
