package provider

import (
	"strings"

	"github.com/pnpbots/pnptv-app-sub006/models"
)

var epaycoLabels = map[string]models.ProviderState{
	"aceptada":   models.ProviderApproved,
	"aprobada":   models.ProviderApproved,
	"approved":   models.ProviderApproved,
	"accepted":   models.ProviderApproved,
	"rechazada":  models.ProviderRejected,
	"rejected":   models.ProviderRejected,
	"pendiente":  models.ProviderPending,
	"pending":    models.ProviderPending,
	"iniciada":   models.ProviderPending,
	"retenida":   models.ProviderPending,
	"fallida":    models.ProviderFailed,
	"failed":     models.ProviderFailed,
	"antifraude": models.ProviderFailed,
	"reversada":  models.ProviderReversed,
	"reversed":   models.ProviderReversed,
	"abandonada": models.ProviderAbandoned,
	"abandoned":  models.ProviderAbandoned,
	"expirada":   models.ProviderAbandoned,
	"cancelada":  models.ProviderCancelled,
	"cancelled":  models.ProviderCancelled,
	"canceled":   models.ProviderCancelled,
}

// x_cod_transaction_state values.
var epaycoCodes = map[string]models.ProviderState{
	"1":  models.ProviderApproved,
	"2":  models.ProviderRejected,
	"3":  models.ProviderPending,
	"4":  models.ProviderFailed,
	"6":  models.ProviderReversed,
	"7":  models.ProviderPending,
	"8":  models.ProviderPending,
	"9":  models.ProviderAbandoned,
	"10": models.ProviderAbandoned,
	"11": models.ProviderCancelled,
	"12": models.ProviderFailed,
}

// NormalizeEpaycoState maps an ePayco state label or numeric code onto the
// fixed provider vocabulary. The label wins when both are known.
func NormalizeEpaycoState(label, code string) (models.ProviderState, bool) {
	if st, ok := epaycoLabels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return st, true
	}
	if st, ok := epaycoCodes[strings.TrimSpace(code)]; ok {
		return st, true
	}
	return "", false
}
