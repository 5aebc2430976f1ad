package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/jobs"
	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/service"
)

const (
	adminTokenHeader = "X-Admin-Token"
	operatorHeader   = "X-Operator"
)

// ScanRunner runs one stuck-payment scan.
type ScanRunner interface {
	Run(ctx context.Context) (jobs.Summary, error)
}

// SweepRunner runs one abandoned-payment sweep.
type SweepRunner interface {
	Run(ctx context.Context) (jobs.SweepSummary, error)
}

// AdminHandler handles operator requests
type AdminHandler struct {
	engine  *service.Engine
	scanner ScanRunner
	sweeper SweepRunner
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(engine *service.Engine, scanner ScanRunner, sweeper SweepRunner) *AdminHandler {
	return &AdminHandler{engine: engine, scanner: scanner, sweeper: sweeper}
}

// AdminAuth requires the configured token in X-Admin-Token. With no token
// configured the admin routes are disabled.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin API disabled"})
			return
		}
		got := c.GetHeader(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Recover re-runs resolve and reconcile for one payment
func (h *AdminHandler) Recover(c *gin.Context) {
	operator := c.GetHeader(operatorHeader)
	if operator == "" {
		operator = "admin-api"
	}

	d, err := h.engine.Recover(c.Request.Context(), c.Param("id"), operator)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RecoveryResponse(d))
}

// RecoveryResponse renders a recovery decision for operators.
func RecoveryResponse(d service.Decision) models.RecoveryResponse {
	resp := models.RecoveryResponse{
		PaymentID:               d.PaymentID,
		Action:                  string(d.Action),
		From:                    d.From,
		To:                      d.Status,
		Applied:                 d.Applied,
		ProviderState:           string(d.ProviderState),
		RequiresManualAttention: d.RequiresManualAttention,
		Message:                 d.Reason,
	}
	if d.RequiresManualAttention && d.Applied {
		resp.Message = "completed without a delivered webhook; verify the charge with the provider"
	}
	return resp
}

// RunScan triggers a stuck-payment scan and waits for its summary
func (h *AdminHandler) RunScan(c *gin.Context) {
	sum, err := h.scanner.Run(c.Request.Context())
	if err != nil {
		logging.WithContext(c.Request.Context()).Error("Manual scan failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sum.LockContended {
		c.JSON(http.StatusConflict, sum)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// RunSweep triggers an abandoned-payment sweep
func (h *AdminHandler) RunSweep(c *gin.Context) {
	sum, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		logging.WithContext(c.Request.Context()).Error("Manual sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}
