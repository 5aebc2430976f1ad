package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pnpbots/pnptv-app-sub006/models"
)

// ErrGrantNotFound is returned when a payment has no entitlement grant.
var ErrGrantNotFound = errors.New("entitlement grant not found")

// ClaimGrant leases the undelivered grant of a payment for one delivery
// attempt. It returns nil without error when the grant is already delivered
// or leased by someone else.
func (s *Store) ClaimGrant(ctx context.Context, paymentID string, now time.Time, lease time.Duration) (*models.EntitlementGrant, error) {
	now = now.UTC()
	res := s.db.WithContext(ctx).Model(&grantRecord{}).
		Where("payment_id = ? AND delivered_at IS NULL", paymentID).
		Where("(claimed_until IS NULL OR claimed_until < ?)", now).
		Updates(map[string]any{
			"claimed_until": now.Add(lease),
			"attempts":      gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetGrant(ctx, paymentID)
}

// GetGrant returns the grant written when the payment completed.
func (s *Store) GetGrant(ctx context.Context, paymentID string) (*models.EntitlementGrant, error) {
	var rec grantRecord
	err := s.db.WithContext(ctx).First(&rec, "payment_id = ?", paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ErrGrantNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// MarkGrantDelivered records a successful activation and drops the lease.
func (s *Store) MarkGrantDelivered(ctx context.Context, grantID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&grantRecord{}).
		Where("id = ? AND delivered_at IS NULL", grantID).
		Updates(map[string]any{
			"delivered_at":  at.UTC(),
			"claimed_until": nil,
			"last_error":    "",
		}).Error
}

// ReleaseGrant drops the lease after a failed activation so the next
// redelivery pass can pick the grant up.
func (s *Store) ReleaseGrant(ctx context.Context, grantID, lastError string) error {
	return s.db.WithContext(ctx).Model(&grantRecord{}).
		Where("id = ? AND delivered_at IS NULL", grantID).
		Updates(map[string]any{
			"claimed_until": nil,
			"last_error":    lastError,
		}).Error
}

// UndeliveredGrants lists payment ids whose grant is neither delivered nor
// currently leased, oldest first.
func (s *Store) UndeliveredGrants(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&grantRecord{}).
		Where("delivered_at IS NULL").
		Where("(claimed_until IS NULL OR claimed_until < ?)", now.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Pluck("payment_id", &ids).Error
	return ids, err
}
