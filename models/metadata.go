package models

import "time"

// MetadataKey names a value in a payment's metadata bag. Storage is
// schemaless, but the reconciler only ever writes the keys declared here.
type MetadataKey string

const (
	MetaProviderState          MetadataKey = "provider_state"
	MetaProviderMessage        MetadataKey = "provider_message"
	MetaProviderCheckedAt      MetadataKey = "provider_checked_at"
	MetaThreeDSAuthenticatedAt MetadataKey = "three_ds_authenticated_at"
	MetaAbandonedAt            MetadataKey = "abandoned_at"
	MetaAbandonmentReason      MetadataKey = "abandonment_reason"
	MetaSweepRunID             MetadataKey = "sweep_run_id"
	MetaRecoveredBy            MetadataKey = "recovered_by"
	MetaRecoveredWithoutHook   MetadataKey = "recovered_without_webhook"
	MetaRequiresAttention      MetadataKey = "requires_manual_attention"
	MetaAmountMismatch         MetadataKey = "amount_mismatch"
	MetaWebhookReceivedAt      MetadataKey = "webhook_received_at"
	MetaWebhookTransactionID   MetadataKey = "webhook_transaction_id"
	MetaPlanDurationDays       MetadataKey = "plan_duration_days"
)

// Abandonment reasons recorded under MetaAbandonmentReason.
const (
	ReasonThreeDSTimeoutUnauthenticated = "3ds_timeout_unauthenticated"
	ReasonThreeDSTimeoutAuthenticated   = "3ds_timeout_authenticated"
	ReasonPendingCeilingExceeded        = "pending_ceiling_exceeded"
)

// Metadata is an append-only key/value bag. Writes go through Merge so an
// existing key is only ever replaced by a newer value, never dropped.
type Metadata map[MetadataKey]string

// Merge returns a new bag holding m overlaid with patch.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := make(Metadata, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Get returns the value stored under key.
func (m Metadata) Get(key MetadataKey) (string, bool) {
	v, ok := m[key]
	return v, ok && v != ""
}

// Time parses an RFC3339 timestamp stored under key.
func (m Metadata) Time(key MetadataKey) (time.Time, bool) {
	v, ok := m.Get(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatTime renders t the way Time expects to read it back.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
