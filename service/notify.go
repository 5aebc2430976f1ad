package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
)

// notifyBestEffort sends an outcome and only logs failures, panics
// included. Reconciliation results never depend on it.
func notifyBestEffort(ctx context.Context, n Notifier, outcome models.Outcome) {
	if n == nil {
		return
	}
	logger := logging.WithContext(ctx)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("notifier panicked: %v", r)
			}
		}()
		return n.Notify(ctx, outcome)
	}()
	if err != nil {
		logger.Warn("Outcome notification failed",
			zap.String("payment_id", outcome.PaymentID),
			zap.String("status", string(outcome.Status)),
			zap.Error(err),
		)
	}
}

// NotifyAll sends outcomes best-effort, in order.
func NotifyAll(ctx context.Context, n Notifier, outcomes []models.Outcome) {
	for _, o := range outcomes {
		notifyBestEffort(ctx, n, o)
	}
}
