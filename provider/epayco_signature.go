package provider

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/pnpbots/pnptv-app-sub006/models"
)

// SignatureVerifier checks ePayco confirmation signatures:
// sha256(p_cust_id_cliente^p_key^x_ref_payco^x_transaction_id^x_amount^x_currency_code).
type SignatureVerifier struct {
	CustomerID string
	PKey       string
}

// Sign computes the signature ePayco sends for the given fields.
func (v SignatureVerifier) Sign(refPayco, transactionID, amount, currency string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		v.CustomerID, v.PKey, refPayco, transactionID, amount, currency,
	}, "^")))
	return hex.EncodeToString(sum[:])
}

// Verify returns models.ErrSignatureInvalid unless req carries a valid
// signature over its signed fields.
func (v SignatureVerifier) Verify(req *models.EpaycoWebhookRequest) error {
	if v.PKey == "" || req.Signature == "" || req.RefPayco == "" {
		return models.ErrSignatureInvalid
	}
	expected := v.Sign(req.RefPayco, req.TransactionID, req.Amount, req.CurrencyCode)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(req.Signature))) != 1 {
		return models.ErrSignatureInvalid
	}
	return nil
}
