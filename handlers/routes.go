package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the reconciler's HTTP surface on r.
func RegisterRoutes(r gin.IRouter, payments *PaymentHandler, admin *AdminHandler, adminToken string) {
	r.GET("/health", payments.HealthCheck)

	api := r.Group("/api")
	api.POST("/webhooks/epayco", payments.EpaycoWebhook)
	api.GET("/payments/:id/status", payments.PollStatus)
	api.POST("/payments/:id/3ds", payments.ThreeDSReturn)
	api.PUT("/payments/:id/reference", payments.AttachReference)

	ops := api.Group("/admin", AdminAuth(adminToken))
	ops.POST("/payments/:id/recover", admin.Recover)
	ops.POST("/jobs/scan", admin.RunScan)
	ops.POST("/jobs/sweep", admin.RunSweep)
}
