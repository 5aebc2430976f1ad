package models

import "errors"

var (
	// ErrProviderUnavailable means the provider could not answer; retry later.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrSignatureInvalid means a webhook failed signature verification.
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	// ErrPaymentNotFound means no local payment matched the lookup.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrAlreadyTerminal means the payment already left pending.
	ErrAlreadyTerminal = errors.New("payment already terminal")
	// ErrLockContention means another process holds the batch lock.
	ErrLockContention = errors.New("lock held by another run")
	// ErrVersionConflict means a compare-and-set write lost a race.
	ErrVersionConflict = errors.New("payment changed concurrently")
	// ErrNoProviderReference means the provider cannot be queried yet.
	ErrNoProviderReference = errors.New("payment has no provider reference")
)
