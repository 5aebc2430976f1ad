package clients

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
)

var errNotConfigured = errors.New("collaborator not configured")

// NotificationClient posts payment outcomes to the messaging service.
type NotificationClient struct {
	url    string
	client *http.Client
}

// NewNotificationClient creates a client posting to url
func NewNotificationClient(url string, timeout time.Duration) *NotificationClient {
	return &NotificationClient{url: url, client: newHTTPClient(timeout)}
}

func (c *NotificationClient) Notify(ctx context.Context, outcome models.Outcome) error {
	return postJSON(ctx, c.client, c.url, "notification-service", outcome)
}

// LogNotifier writes outcomes to the log instead of sending them.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, outcome models.Outcome) error {
	logging.WithContext(ctx).Info("Payment outcome",
		zap.String("payment_id", outcome.PaymentID),
		zap.String("user_id", outcome.UserID),
		zap.String("status", string(outcome.Status)),
		zap.String("reason", outcome.Reason),
	)
	return nil
}
