package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"go.uber.org/zap"

	"savings/internal/handler"
	"savings/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	PaymentHandler   *handler.PaymentHandler
	WebhookHandler   *handler.WebhookHandler
	LedgerHandler    *handler.LedgerHandler
	IdempotencyStore middleware.ResponseStore
	NewRelicApp      *newrelic.Application
	Logger           *zap.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.NewRelicMiddleware(deps.NewRelicApp))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Gateway notifications are authenticated by signature, not by caller identity.
	router.POST("/webhooks/gateway", middleware.TransactionAttributes(), deps.WebhookHandler.Handle)

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.RequireUser())
	v1.Use(middleware.TransactionAttributes())
	v1.Use(middleware.IdempotencyMiddleware(deps.IdempotencyStore, deps.Logger))
	{
		// Payment routes.
		payments := v1.Group("/payments")
		{
			payments.POST("/initialize", deps.PaymentHandler.Initialize)
			payments.GET("/fees", deps.PaymentHandler.GetFees)
			payments.GET("", deps.PaymentHandler.ListPayments)
			payments.GET("/:reference", deps.PaymentHandler.GetPayment)
			payments.GET("/:reference/verify", deps.PaymentHandler.VerifyPayment)
			payments.POST("/:reference/cancel", deps.PaymentHandler.CancelPayment)
		}

		// Ledger routes.
		v1.GET("/transactions", deps.LedgerHandler.ListTransactions)
		v1.GET("/targets/:id", deps.LedgerHandler.GetTarget)
	}

	return router
}
