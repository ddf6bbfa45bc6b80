package app

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"savings/internal/config"
	"savings/internal/events"
	"savings/internal/gateway"
	"savings/internal/handler"
	"savings/internal/middleware"
	internalRedis "savings/internal/redis"
	"savings/internal/repository/postgres"
	"savings/internal/service"
)

// Container holds the connections and services shared by the HTTP server and
// the maintenance CLI.
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *sql.DB
	Redis     *redis.Client
	NewRelic  *newrelic.Application
	Publisher events.Publisher

	Payments   *service.PaymentService
	Reconciler *service.ReconciliationService
	Crediting  *service.CreditingService
	Ledger     *service.LedgerService
}

// NewNewRelic starts the New Relic agent when it is enabled and licensed.
// Agent failures are logged and leave instrumentation off.
func NewNewRelic(cfg config.NewRelicConfig, logger *zap.Logger) *newrelic.Application {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil
	}

	nrApp, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		logger.Error("failed to initialize New Relic", zap.Error(err))
		return nil
	}
	logger.Info("New Relic enabled", zap.String("app", cfg.AppName))
	return nrApp
}

// Build connects to Postgres, Redis and the event broker and wires the services.
// New Relic is started first so the database and Redis clients are instrumented.
func Build(ctx context.Context, cfg *config.Config, pool PoolSize, logger *zap.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}
	c.NewRelic = NewNewRelic(cfg.NewRelic, logger)

	var err error
	c.DB, err = NewDatabase(ctx, cfg.Database, pool, c.NewRelic)
	if err != nil {
		c.Close()
		return nil, err
	}
	logger.Info("connected to PostgreSQL")

	c.Redis, err = NewRedisClient(ctx, cfg.Redis, c.NewRelic)
	if err != nil {
		c.Close()
		return nil, err
	}
	logger.Info("connected to Redis")

	c.Publisher, err = NewPublisher(cfg.Kafka, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	// Repositories.
	paymentRepo := postgres.NewPaymentRepository(c.DB)
	targetRepo := postgres.NewTargetRepository(c.DB)
	logRepo := postgres.NewTransactionLogRepository(c.DB)
	taskRepo := postgres.NewCreditingTaskRepository(c.DB)

	// Redis stores.
	cacheStore := internalRedis.NewCacheStore(c.Redis)
	dedupeStore := internalRedis.NewDedupeStore(c.Redis, cfg.Webhook.DedupeTTL)

	// Gateway.
	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, cfg.Gateway.Timeout, nil, logger)
	verifier := gateway.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.AllowUnsigned, logger)

	// Services.
	notifier := service.NewNotificationService(c.Publisher, logger)
	c.Crediting = service.NewCreditingService(targetRepo, paymentRepo, logRepo, taskRepo, cacheStore, notifier, logger)
	c.Reconciler = service.NewReconciliationService(paymentRepo, gatewayClient, verifier, c.Crediting, cacheStore, dedupeStore, logger)
	c.Payments = service.NewPaymentService(
		paymentRepo,
		targetRepo,
		service.NewFeeCalculator(cfg.Fees),
		gatewayClient,
		cfg.App.DefaultCurrency,
		cfg.Gateway.CallbackURL,
		logger,
	)
	c.Ledger = service.NewLedgerService(targetRepo, logRepo)

	return c, nil
}

// HTTPServer builds the HTTP server around the container's services.
func (c *Container) HTTPServer() *http.Server {
	router := NewRouter(RouterDeps{
		PaymentHandler:   handler.NewPaymentHandler(c.Payments, c.Reconciler),
		WebhookHandler:   handler.NewWebhookHandler(c.Reconciler, c.Config.Webhook.SignatureHeader, c.Logger),
		LedgerHandler:    handler.NewLedgerHandler(c.Ledger),
		IdempotencyStore: middleware.NewRedisResponseStore(c.Redis),
		NewRelicApp:      c.NewRelic,
		Logger:           c.Logger,
	})

	return &http.Server{
		Addr:         ":" + c.Config.Server.Port,
		Handler:      router,
		ReadTimeout:  c.Config.Server.ReadTimeout,
		WriteTimeout: c.Config.Server.WriteTimeout,
	}
}

// Close releases every connection the container opened.
func (c *Container) Close() {
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			c.Logger.Warn("failed to close publisher", zap.Error(err))
		}
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
	if c.NewRelic != nil {
		c.NewRelic.Shutdown(c.Config.Server.WriteTimeout)
	}
}
