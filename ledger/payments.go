package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pnpbots/pnptv-app-sub006/models"
)

// ErrReferenceAlreadySet is returned when a different provider reference is
// already attached to the payment.
var ErrReferenceAlreadySet = errors.New("provider reference already set")

// Store is the payment ledger. Every mutation of a payment is a single-row
// write conditioned on the row still being pending at an expected version.
type Store struct {
	db *gorm.DB
}

// NewStore creates a ledger store on an opened database
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// StuckQuery selects pending payments the scanner should look at.
type StuckQuery struct {
	CreatedBefore time.Time
	CreatedAfter  time.Time
	Providers     []models.Provider
	Limit         int
}

// Create records a new payment. Checkout owns creation; the reconciler only
// uses it for imports and tests.
func (s *Store) Create(ctx context.Context, p *models.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.Metadata == nil {
		p.Metadata = models.Metadata{}
	}
	return s.db.WithContext(ctx).Create(toRecord(p)).Error
}

// Get returns the current state of a payment.
func (s *Store) Get(ctx context.Context, id string) (*models.Payment, error) {
	var rec paymentRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("payment %s: %w", id, models.ErrPaymentNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// FindByReference returns the most recent payment carrying the provider reference.
func (s *Store) FindByReference(ctx context.Context, provider models.Provider, reference string) (*models.Payment, error) {
	var rec paymentRecord
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_reference = ?", string(provider), reference).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("reference %s: %w", reference, models.ErrPaymentNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// FindStuck lists pending payments with a provider reference created inside
// the query window, oldest first.
func (s *Store) FindStuck(ctx context.Context, q StuckQuery) ([]*models.Payment, error) {
	tx := s.db.WithContext(ctx).
		Where("status = ?", string(models.StatusPending)).
		Where("provider_reference IS NOT NULL AND provider_reference <> ''").
		Where("created_at <= ? AND created_at >= ?", q.CreatedBefore.UTC(), q.CreatedAfter.UTC())
	if len(q.Providers) > 0 {
		providers := make([]string, 0, len(q.Providers))
		for _, p := range q.Providers {
			providers = append(providers, string(p))
		}
		tx = tx.Where("provider IN ?", providers)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var recs []paymentRecord
	if err := tx.Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]*models.Payment, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toModel())
	}
	return out, nil
}

// Transition moves a pending payment to a new status, merging metadata and,
// when the transition carries a grant, inserting it in the same database
// transaction. It returns ErrVersionConflict if the row is no longer pending
// at the expected version.
func (s *Store) Transition(ctx context.Context, t models.Transition) error {
	if !t.To.IsTerminal() {
		return fmt.Errorf("transition to %q: not a terminal status", t.To)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := casUpdate(tx, t.PaymentID, t.ExpectedVersion, t.To, t.Metadata, t.At); err != nil {
			return err
		}
		if t.Grant == nil {
			return nil
		}
		g := t.Grant
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		return tx.Create(&grantRecord{
			ID:        g.ID,
			PaymentID: t.PaymentID,
			UserID:    g.UserID,
			PlanID:    g.PlanID,
			ExpiresAt: g.ExpiresAt.UTC(),
			CreatedAt: t.At.UTC(),
		}).Error
	})
}

// MergeMetadata merges patch into a pending payment's metadata without
// changing its status.
func (s *Store) MergeMetadata(ctx context.Context, id string, expectedVersion int64, patch models.Metadata, at time.Time) error {
	return casUpdate(s.db.WithContext(ctx), id, expectedVersion, models.StatusPending, patch, at)
}

func casUpdate(tx *gorm.DB, id string, expectedVersion int64, to models.Status, patch models.Metadata, at time.Time) error {
	var rec paymentRecord
	err := tx.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("payment %s: %w", id, models.ErrPaymentNotFound)
	}
	if err != nil {
		return err
	}
	if rec.Status != string(models.StatusPending) || rec.Version != expectedVersion {
		return models.ErrVersionConflict
	}

	merged := fromJSONMap(rec.Metadata).Merge(patch)
	res := tx.Model(&paymentRecord{}).
		Where("id = ? AND status = ? AND version = ?", id, string(models.StatusPending), expectedVersion).
		Updates(map[string]any{
			"status":     string(to),
			"metadata":   toJSONMap(merged),
			"version":    gorm.Expr("version + 1"),
			"updated_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// AttachReference stores the provider reference on a pending payment that
// does not have one yet. Attaching the same reference again is a no-op.
func (s *Store) AttachReference(ctx context.Context, id, reference string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&paymentRecord{}).
		Where("id = ? AND status = ?", id, string(models.StatusPending)).
		Where("(provider_reference IS NULL OR provider_reference = '')").
		Updates(map[string]any{
			"provider_reference": reference,
			"version":            gorm.Expr("version + 1"),
			"updated_at":         at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case p.ProviderReference == reference:
		return nil
	case p.Status.IsTerminal():
		return fmt.Errorf("payment %s is %s: %w", id, p.Status, models.ErrAlreadyTerminal)
	default:
		return fmt.Errorf("payment %s has %s: %w", id, p.ProviderReference, ErrReferenceAlreadySet)
	}
}

// SweepAbandoned moves every payment pending since before cutoff to
// abandoned in one statement. Each row's metadata is merged with the
// abandonment time, reason and runID so the run can list what it changed.
func (s *Store) SweepAbandoned(ctx context.Context, cutoff, at time.Time, runID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&paymentRecord{}).
		Where("status = ? AND created_at < ?", string(models.StatusPending), cutoff.UTC()).
		Updates(map[string]any{
			"status": string(models.StatusAbandoned),
			"metadata": gorm.Expr(
				"json_set(COALESCE(metadata, '{}'), ?, ?, ?, ?, ?, ?)",
				"$."+string(models.MetaAbandonedAt), models.FormatTime(at),
				"$."+string(models.MetaAbandonmentReason), models.ReasonPendingCeilingExceeded,
				"$."+string(models.MetaSweepRunID), runID,
			),
			"version":    gorm.Expr("version + 1"),
			"updated_at": at.UTC(),
		})
	return res.RowsAffected, res.Error
}

// ListSweepRun returns the payments a sweep run abandoned.
func (s *Store) ListSweepRun(ctx context.Context, runID string) ([]*models.Payment, error) {
	var recs []paymentRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", string(models.StatusAbandoned)).
		Where("json_extract(metadata, ?) = ?", "$."+string(models.MetaSweepRunID), runID).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.Payment, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toModel())
	}
	return out, nil
}
