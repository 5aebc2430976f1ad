package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/ledger"
	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/monitoring"
	"github.com/pnpbots/pnptv-app-sub006/provider"
	"github.com/pnpbots/pnptv-app-sub006/service"
)

// PaymentFinder locates the local payment a webhook refers to.
type PaymentFinder interface {
	Get(ctx context.Context, id string) (*models.Payment, error)
	FindByReference(ctx context.Context, p models.Provider, reference string) (*models.Payment, error)
}

// PaymentHandler handles HTTP requests for payments
type PaymentHandler struct {
	engine   *service.Engine
	payments PaymentFinder
	verifier provider.SignatureVerifier
	now      func() time.Time
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(engine *service.Engine, payments PaymentFinder, verifier provider.SignatureVerifier, now func() time.Time) *PaymentHandler {
	if now == nil {
		now = time.Now
	}
	return &PaymentHandler{
		engine:   engine,
		payments: payments,
		verifier: verifier,
		now:      now,
	}
}

// EpaycoWebhook handles ePayco confirmation pushes. Only a bad signature is
// rejected; every other outcome is acknowledged with 200 so the provider
// does not redeliver, and internal failures are left in the log.
func (h *PaymentHandler) EpaycoWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)
	logger := logging.WithTraceContext(span)

	var req models.EpaycoWebhookRequest
	if err := c.ShouldBind(&req); err != nil {
		recordWebhook(ctx, "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	span.SetAttributes(attribute.String("payment.provider_reference", req.RefPayco))

	if err := h.verifier.Verify(&req); err != nil {
		logger.Warn("Webhook signature rejected",
			zap.String("provider_reference", req.RefPayco),
			zap.String("transaction_id", req.TransactionID),
			zap.String("client_ip", c.ClientIP()),
		)
		recordWebhook(ctx, "signature_invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	outcome := h.processWebhook(ctx, logger, &req)
	recordWebhook(ctx, outcome)
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func (h *PaymentHandler) processWebhook(ctx context.Context, logger *zap.Logger, req *models.EpaycoWebhookRequest) string {
	p, err := h.locate(ctx, req)
	if err != nil {
		if errors.Is(err, models.ErrPaymentNotFound) {
			logger.Warn("Webhook matched no payment",
				zap.String("provider_reference", req.RefPayco),
				zap.String("extra1", req.Extra1),
			)
			return "not_found"
		}
		logger.Error("Webhook payment lookup failed",
			zap.String("provider_reference", req.RefPayco),
			zap.Error(err),
		)
		return "error"
	}

	state, ok := provider.NormalizeEpaycoState(req.TransactionState, req.StateCode)
	if !ok {
		logger.Warn("Webhook carried an unrecognized state",
			zap.String("payment_id", p.ID),
			zap.String("state", req.TransactionState),
			zap.String("state_code", req.StateCode),
		)
		return "unknown_state"
	}

	res := models.Resolution{
		OK:            true,
		State:         state,
		Message:       req.ResponseReasonTxt,
		TransactionID: req.TransactionID,
		Currency:      strings.ToUpper(req.CurrencyCode),
	}
	if res.Message == "" {
		res.Message = req.TransactionState
	}
	if amount, err := decimal.NewFromString(req.Amount); err == nil {
		res.Amount = &amount
	}

	meta := models.Metadata{models.MetaWebhookReceivedAt: models.FormatTime(h.now())}
	if req.TransactionID != "" {
		meta[models.MetaWebhookTransactionID] = req.TransactionID
	}

	d, err := h.engine.Reconcile(ctx, p.ID, service.Observation{
		Resolution: res,
		Source:     service.SourceWebhook,
		Metadata:   meta,
	})
	if err != nil {
		logger.Error("Webhook reconciliation failed",
			zap.String("payment_id", p.ID),
			zap.String("provider_reference", req.RefPayco),
			zap.Error(err),
		)
		return "error"
	}
	return string(d.Action)
}

// locate finds the payment by provider reference, falling back to the
// payment id checkout put in x_extra1. In the fallback case the reference
// is attached so later polls and scans can query the provider.
func (h *PaymentHandler) locate(ctx context.Context, req *models.EpaycoWebhookRequest) (*models.Payment, error) {
	p, err := h.payments.FindByReference(ctx, models.ProviderEpayco, req.RefPayco)
	if err == nil || !errors.Is(err, models.ErrPaymentNotFound) || req.Extra1 == "" {
		return p, err
	}

	p, err = h.payments.Get(ctx, req.Extra1)
	if err != nil {
		return nil, err
	}
	if p.Provider != models.ProviderEpayco {
		return nil, models.ErrPaymentNotFound
	}
	if p.ProviderReference == "" && !p.Status.IsTerminal() {
		if err := h.engine.AttachReference(ctx, p.ID, req.RefPayco); err != nil {
			return nil, err
		}
		return p, nil
	}
	if p.ProviderReference != req.RefPayco {
		return nil, models.ErrPaymentNotFound
	}
	return p, nil
}

// PollStatus handles the checkout page polling for a payment's status
func (h *PaymentHandler) PollStatus(c *gin.Context) {
	ctx := c.Request.Context()

	resp, err := h.engine.Poll(ctx, c.Param("id"))
	if errors.Is(err, models.ErrPaymentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	if err != nil {
		logging.WithContext(ctx).Error("Poll failed", zap.String("payment_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ThreeDSReturn records that the user passed the 3DS challenge
func (h *PaymentHandler) ThreeDSReturn(c *gin.Context) {
	var req models.ThreeDSReturnRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	at := h.now()
	if req.AuthenticatedAt != nil && !req.AuthenticatedAt.After(at) {
		at = *req.AuthenticatedAt
	}

	err := h.engine.RecordThreeDSAuthentication(c.Request.Context(), c.Param("id"), at)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// AttachReference stores the provider reference checkout obtained
func (h *PaymentHandler) AttachReference(c *gin.Context) {
	var req models.AttachReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.AttachReference(c.Request.Context(), c.Param("id"), req.ProviderReference); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "attached"})
}

// HealthCheck handles health check requests
func (h *PaymentHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
	case errors.Is(err, models.ErrAlreadyTerminal), errors.Is(err, ledger.ErrReferenceAlreadySet):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNoProviderReference):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		logging.WithContext(c.Request.Context()).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("payment_id", c.Param("id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func recordWebhook(ctx context.Context, outcome string) {
	monitoring.WebhookRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", string(models.ProviderEpayco)),
			attribute.String("outcome", outcome),
		),
	)
}
