package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderState is the normalized transaction state reported by a provider
type ProviderState string

const (
	ProviderPending   ProviderState = "Pending"
	ProviderApproved  ProviderState = "Approved"
	ProviderRejected  ProviderState = "Rejected"
	ProviderFailed    ProviderState = "Failed"
	ProviderAbandoned ProviderState = "Abandoned"
	ProviderCancelled ProviderState = "Cancelled"
	ProviderReversed  ProviderState = "Reversed"
)

// Resolution is the answer to a provider status query. OK is false when the
// provider could not be reached or answered with an error; that is always
// retryable and never a verdict on the payment.
type Resolution struct {
	OK      bool
	State   ProviderState
	Message string

	// Optional details some provider answers carry.
	TransactionID          string
	Amount                 *decimal.Decimal
	Currency               string
	ThreeDSAuthenticatedAt *time.Time
}

// Unavailable builds a failed resolution.
func Unavailable(message string) Resolution {
	return Resolution{OK: false, Message: message}
}
