package models

import "time"

// EpaycoWebhookRequest represents an ePayco confirmation push. ePayco posts
// it form-encoded; JSON is accepted for replays from the dashboard.
type EpaycoWebhookRequest struct {
	RefPayco          string `form:"x_ref_payco" json:"x_ref_payco"`
	TransactionID     string `form:"x_transaction_id" json:"x_transaction_id"`
	Amount            string `form:"x_amount" json:"x_amount"`
	CurrencyCode      string `form:"x_currency_code" json:"x_currency_code"`
	Signature         string `form:"x_signature" json:"x_signature"`
	TransactionState  string `form:"x_transaction_state" json:"x_transaction_state"`
	StateCode         string `form:"x_cod_transaction_state" json:"x_cod_transaction_state"`
	CustomerID        string `form:"x_cust_id_cliente" json:"x_cust_id_cliente"`
	Extra1            string `form:"x_extra1" json:"x_extra1"`
	Extra2            string `form:"x_extra2" json:"x_extra2"`
	Extra3            string `form:"x_extra3" json:"x_extra3"`
	ResponseReasonTxt string `form:"x_response_reason_text" json:"x_response_reason_text"`
}

// PollResponse represents the status returned to a waiting checkout page
type PollResponse struct {
	PaymentID string `json:"payment_id"`
	Status    Status `json:"status"`
	Stuck     bool   `json:"stuck,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Poll diagnostic reasons.
const (
	PollReasonNoReference         = "no_provider_reference"
	PollReasonAwaitingProvider    = "awaiting_provider"
	PollReasonAwaitingThreeDS     = "awaiting_3ds"
	PollReasonProviderUnavailable = "provider_unavailable"
)

// AttachReferenceRequest represents the checkout flow handing over the
// provider reference once the provider has issued it.
type AttachReferenceRequest struct {
	ProviderReference string `json:"provider_reference" binding:"required"`
}

// RecoveryResponse represents the outcome of a manual recovery run
type RecoveryResponse struct {
	PaymentID               string `json:"payment_id"`
	Action                  string `json:"action"`
	From                    Status `json:"from"`
	To                      Status `json:"to"`
	Applied                 bool   `json:"applied"`
	ProviderState           string `json:"provider_state,omitempty"`
	RequiresManualAttention bool   `json:"requires_manual_attention"`
	Message                 string `json:"message,omitempty"`
}

// ThreeDSReturnRequest represents the checkout page reporting that the
// bank challenge was passed. AuthenticatedAt defaults to the receive time.
type ThreeDSReturnRequest struct {
	AuthenticatedAt *time.Time `json:"authenticated_at"`
}
