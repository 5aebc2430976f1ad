package clients

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
)

type activationRequest struct {
	GrantID   string    `json:"grant_id"`
	PaymentID string    `json:"payment_id"`
	UserID    string    `json:"user_id"`
	PlanID    string    `json:"plan_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EntitlementClient activates plans through the subscription service.
type EntitlementClient struct {
	url    string
	client *http.Client
}

// NewEntitlementClient creates a client posting to url
func NewEntitlementClient(url string, timeout time.Duration) *EntitlementClient {
	return &EntitlementClient{url: url, client: newHTTPClient(timeout)}
}

// Activate asks the subscription service to grant the plan. grant_id lets
// the receiver drop a repeated activation.
func (c *EntitlementClient) Activate(ctx context.Context, grant models.EntitlementGrant) error {
	return postJSON(ctx, c.client, c.url, "entitlement-service", activationRequest{
		GrantID:   grant.ID,
		PaymentID: grant.PaymentID,
		UserID:    grant.UserID,
		PlanID:    grant.PlanID,
		ExpiresAt: grant.ExpiresAt.UTC(),
	})
}

// LogActivator only logs activations. It is used when no entitlement
// service is configured, which leaves grants for an operator.
type LogActivator struct{}

func (LogActivator) Activate(ctx context.Context, grant models.EntitlementGrant) error {
	logging.WithContext(ctx).Warn("No entitlement service configured, grant not activated",
		zap.String("payment_id", grant.PaymentID),
		zap.String("user_id", grant.UserID),
		zap.String("plan_id", grant.PlanID),
	)
	return errNotConfigured
}
