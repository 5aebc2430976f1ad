package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/provider"
)

func signedRequest(v provider.SignatureVerifier) *models.EpaycoWebhookRequest {
	req := &models.EpaycoWebhookRequest{
		RefPayco:         "98765",
		TransactionID:    "tx-1",
		Amount:           "24.99",
		CurrencyCode:     "USD",
		TransactionState: "Aceptada",
	}
	req.Signature = v.Sign(req.RefPayco, req.TransactionID, req.Amount, req.CurrencyCode)
	return req
}

func TestSignatureVerifier_Verify(t *testing.T) {
	v := provider.SignatureVerifier{CustomerID: "cust-1", PKey: "p-key"}

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, v.Verify(signedRequest(v)))
	})

	t.Run("altered amount with reused signature", func(t *testing.T) {
		req := signedRequest(v)
		req.Amount = "1.00"
		assert.ErrorIs(t, v.Verify(req), models.ErrSignatureInvalid)
	})

	t.Run("altered reference with reused signature", func(t *testing.T) {
		req := signedRequest(v)
		req.RefPayco = "11111"
		assert.ErrorIs(t, v.Verify(req), models.ErrSignatureInvalid)
	})

	t.Run("signed with another key", func(t *testing.T) {
		other := provider.SignatureVerifier{CustomerID: "cust-1", PKey: "leaked"}
		assert.ErrorIs(t, v.Verify(signedRequest(other)), models.ErrSignatureInvalid)
	})

	t.Run("missing signature", func(t *testing.T) {
		req := signedRequest(v)
		req.Signature = ""
		assert.ErrorIs(t, v.Verify(req), models.ErrSignatureInvalid)
	})

	t.Run("unconfigured verifier rejects everything", func(t *testing.T) {
		assert.ErrorIs(t, provider.SignatureVerifier{}.Verify(signedRequest(provider.SignatureVerifier{})), models.ErrSignatureInvalid)
	})
}
