package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies the payment provider that processed a payment
type Provider string

const (
	ProviderEpayco Provider = "epayco"
	ProviderDaimo  Provider = "daimo"
)

// Status is the lifecycle state of a payment in the ledger
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusAbandoned Status = "abandoned"
)

// IsTerminal reports whether the status can never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded, StatusAbandoned:
		return true
	}
	return false
}

// Payment is a locally recorded payment and its correlation data
type Payment struct {
	ID                string
	UserID            string
	PlanID            string
	Provider          Provider
	Amount            decimal.Decimal
	Currency          string
	Status            Status
	ProviderReference string
	Metadata          Metadata
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasReference reports whether the provider can be queried for this payment.
func (p *Payment) HasReference() bool {
	return p.ProviderReference != ""
}

// Transition is a compare-and-set write against a pending payment. It is
// applied only if the row is still pending at ExpectedVersion.
type Transition struct {
	PaymentID       string
	ExpectedVersion int64
	To              Status
	Metadata        Metadata
	Grant           *EntitlementGrant
	At              time.Time
}

// EntitlementGrant is the durable record that a completed payment owes its
// user an entitlement. It is written in the same transaction as the
// pending -> completed flip.
type EntitlementGrant struct {
	ID          string
	PaymentID   string
	UserID      string
	PlanID      string
	ExpiresAt   time.Time
	DeliveredAt *time.Time
	Attempts    int
	LastError   string
}

// Outcome is what the notification collaborator is told after a payment
// reaches a terminal status.
type Outcome struct {
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
	PlanID    string `json:"plan_id"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
}
