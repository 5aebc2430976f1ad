package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/pnpbots/pnptv-app-sub006/models"
)

type paymentRecord struct {
	ID                string            `gorm:"primaryKey;column:id;type:varchar(64)"`
	UserID            string            `gorm:"column:user_id;type:varchar(64);not null"`
	PlanID            string            `gorm:"column:plan_id;type:varchar(64);not null"`
	Provider          string            `gorm:"column:provider;type:varchar(32);not null"`
	Amount            decimal.Decimal   `gorm:"column:amount;type:decimal(20,4);not null"`
	Currency          string            `gorm:"column:currency;type:varchar(8);not null"`
	Status            string            `gorm:"column:status;type:varchar(16);not null;index:idx_payments_status_created,priority:1"`
	ProviderReference *string           `gorm:"column:provider_reference;type:varchar(128);index"`
	Metadata          datatypes.JSONMap `gorm:"column:metadata"`
	Version           int64             `gorm:"column:version;not null;default:0"`
	CreatedAt         time.Time         `gorm:"column:created_at;index:idx_payments_status_created,priority:2"`
	UpdatedAt         time.Time         `gorm:"column:updated_at"`
}

func (paymentRecord) TableName() string { return "payments" }

type grantRecord struct {
	ID           string     `gorm:"primaryKey;column:id;type:varchar(64)"`
	PaymentID    string     `gorm:"column:payment_id;type:varchar(64);not null;uniqueIndex"`
	UserID       string     `gorm:"column:user_id;type:varchar(64);not null"`
	PlanID       string     `gorm:"column:plan_id;type:varchar(64);not null"`
	ExpiresAt    time.Time  `gorm:"column:expires_at"`
	DeliveredAt  *time.Time `gorm:"column:delivered_at;index"`
	ClaimedUntil *time.Time `gorm:"column:claimed_until"`
	Attempts     int        `gorm:"column:attempts;not null;default:0"`
	LastError    string     `gorm:"column:last_error;type:text"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
}

func (grantRecord) TableName() string { return "entitlement_grants" }

func toRecord(p *models.Payment) *paymentRecord {
	rec := &paymentRecord{
		ID:        p.ID,
		UserID:    p.UserID,
		PlanID:    p.PlanID,
		Provider:  string(p.Provider),
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    string(p.Status),
		Metadata:  toJSONMap(p.Metadata),
		Version:   p.Version,
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
	if p.ProviderReference != "" {
		ref := p.ProviderReference
		rec.ProviderReference = &ref
	}
	return rec
}

func (r *paymentRecord) toModel() *models.Payment {
	p := &models.Payment{
		ID:        r.ID,
		UserID:    r.UserID,
		PlanID:    r.PlanID,
		Provider:  models.Provider(r.Provider),
		Amount:    r.Amount,
		Currency:  r.Currency,
		Status:    models.Status(r.Status),
		Metadata:  fromJSONMap(r.Metadata),
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.ProviderReference != nil {
		p.ProviderReference = *r.ProviderReference
	}
	return p
}

func (r *grantRecord) toModel() *models.EntitlementGrant {
	return &models.EntitlementGrant{
		ID:          r.ID,
		PaymentID:   r.PaymentID,
		UserID:      r.UserID,
		PlanID:      r.PlanID,
		ExpiresAt:   r.ExpiresAt.UTC(),
		DeliveredAt: r.DeliveredAt,
		Attempts:    r.Attempts,
		LastError:   r.LastError,
	}
}

func toJSONMap(m models.Metadata) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

// Values written by other systems may not be strings; they are kept, in
// their printed form, so a later merge never drops them.
func fromJSONMap(m datatypes.JSONMap) models.Metadata {
	out := make(models.Metadata, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
		case string:
			out[models.MetadataKey(k)] = val
		default:
			out[models.MetadataKey(k)] = fmt.Sprint(val)
		}
	}
	return out
}
