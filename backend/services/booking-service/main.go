package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	awspkg "github.com/satheshM/sakkaram-mobile-app/backend/pkg/aws"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/common/auth"
	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/common/logger"
	commonmw "github.com/satheshM/sakkaram-mobile-app/backend/services/common/middleware"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/config"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/controllers"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/database"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/kafka"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/pricing"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/providers"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository/memory"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/routes"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/services"
)

const serviceName = "booking-service"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Fatalf("[BookingService] failed to load config: %v", err)
	}

	awsCfg, err := awspkg.LoadAWSConfig(ctx, awspkg.Options{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint})
	if err != nil {
		log.Fatalf("[BookingService] failed to load AWS config: %v", err)
	}

	zl := initLogger(ctx, cfg, awsCfg)
	defer zl.Sync()

	metrics := awspkg.NewMetricsClient(awsCfg, "Sakkaram/BookingService", cfg.MetricsEnabled)

	store, closeStore := openStore(ctx, cfg, zl)
	defer closeStore()

	calculator, err := pricing.NewCalculator(cfg.Rates)
	if err != nil {
		zl.Fatal("Invalid fee rates", zap.Error(err))
	}

	publisher, closePublisher := newPublisher(cfg, awsCfg, zl)
	defer closePublisher()

	wallets := services.NewWalletService(store, services.WalletOptions{
		Currency:      cfg.Currency,
		MinWithdrawal: cfg.MinWithdrawal,
		Metrics:       metrics,
	}, zl.Named("wallet"))

	paymentDeps := services.PaymentDeps{
		Store:     store,
		Wallets:   wallets,
		Gateway:   newGateway(cfg),
		Publisher: publisher,
		Metrics:   metrics,
		Logger:    zl.Named("payment"),
		Config: services.PaymentConfig{
			Currency:            cfg.Currency,
			GatewayTimeout:      cfg.GatewayTimeout,
			FrontendURL:         cfg.FrontendURL,
			OwnerCreditReversal: cfg.OwnerCreditReversal,
		},
	}

	if cfg.RedisURL != "" {
		rdb, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zl.Warn("Redis unavailable, settlement cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			paymentDeps.Cache = services.NewRedisSettlementCache(rdb, 24*time.Hour, zl)
		}
	}

	var retryQueue *awspkg.SQSConsumer
	if cfg.RetryQueueURL != "" {
		retryQueue = awspkg.NewSQSConsumer(awsCfg, cfg.RetryQueueURL, zl)
		paymentDeps.Retry = retryQueue
	}
	if cfg.ArchiveBucket != "" {
		paymentDeps.Archive = awspkg.NewS3Archive(awsCfg, cfg.ArchiveBucket)
	}

	payments := services.NewPaymentService(paymentDeps)
	bookings := services.NewBookingService(services.BookingDeps{
		Store:      store,
		Calculator: calculator,
		Refunder:   payments,
		Publisher:  publisher,
		Metrics:    metrics,
		Logger:     zl.Named("booking"),
	})

	reconciler := services.NewPaymentReconciler(store, payments, services.ReconcilerConfig{
		Interval: cfg.ReconcileInterval,
		Grace:    cfg.ReconcileGrace,
		Batch:    cfg.ReconcileBatch,
		OrderTTL: cfg.PendingOrderTTL,
	}, zl.Named("reconciler"))
	go reconciler.Run(ctx)

	if retryQueue != nil {
		go func() {
			if err := retryQueue.StartPolling(ctx, reconciler.HandleRetryMessage); err != nil && !errors.Is(err, context.Canceled) {
				zl.Error("Retry queue polling stopped", zap.Error(err))
			}
		}()
	}

	limiter := commonmw.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 10*time.Minute)
	go sweepLimiter(ctx, limiter)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := controllers.RegisterValidators(); err != nil {
		zl.Fatal("Failed to register request validators", zap.Error(err))
	}
	r := gin.New()
	r.Use(
		gin.Recovery(),
		logger.RequestID(),
		commonmw.RequestLogger(zl, "/health"),
		commonmw.SecurityHeaders(),
		commonmw.CORSMiddleware(cfg.AllowedOrigins),
		commonmw.RateLimitMiddleware(limiter),
		commonmw.MetricsMiddleware(metrics, serviceName),
		apperrors.ErrorMiddleware(),
	)

	routes.Register(r, routes.Controllers{
		Bookings: controllers.NewBookingController(bookings),
		Payments: controllers.NewPaymentController(payments),
		Wallets:  controllers.NewWalletController(wallets),
	}, auth.NewTokenValidator(cfg.JWTSecret), cfg.InternalToken)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("Booking service running", zap.String("port", cfg.Port), zap.String("gateway", cfg.PaymentGateway))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	zl.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("Shutdown error", zap.Error(err))
	}
	zl.Info("Server shutdown complete.")
}

func initLogger(ctx context.Context, cfg *config.Config, awsCfg sdkaws.Config) *zap.Logger {
	if cfg.LogGroup == "" {
		return logger.Initialize(cfg.Env)
	}
	sink, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.LogGroup, serviceName)
	if err != nil {
		l := logger.Initialize(cfg.Env)
		l.Warn("CloudWatch logs unavailable, logging to stdout only", zap.Error(err))
		return l
	}
	return logger.InitializeWithWriter(cfg.Env, sink)
}

func openStore(ctx context.Context, cfg *config.Config, zl *zap.Logger) (repository.Store, func()) {
	if cfg.StoreDriver == config.StoreMemory {
		zl.Warn("Using in-memory store; data is lost on restart")
		return memory.New(), func() {}
	}
	db, err := database.ConnectPostgres(ctx, cfg.Postgres.DSN(), zl)
	if err != nil {
		zl.Fatal("Failed to connect to DB", zap.Error(err))
	}
	return repository.NewGormStore(db), func() {
		if err := database.Close(db); err != nil {
			zl.Error("Failed to close DB", zap.Error(err))
		}
	}
}

func newGateway(cfg *config.Config) providers.PaymentGateway {
	if cfg.PaymentGateway == config.GatewayStripe {
		return providers.NewStripeProvider(providers.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Timeout:       cfg.GatewayTimeout,
		})
	}
	return providers.NewCashfreeProvider(providers.CashfreeConfig{
		AppID:      cfg.Cashfree.AppID,
		SecretKey:  cfg.Cashfree.SecretKey,
		APIVersion: cfg.Cashfree.APIVersion,
		Production: cfg.Cashfree.Production(),
		NotifyURL:  cfg.BackendURL + "/api/payments/webhook",
		Timeout:    cfg.GatewayTimeout,
	})
}

func newPublisher(cfg *config.Config, awsCfg sdkaws.Config, zl *zap.Logger) (services.EventPublisher, func()) {
	switch cfg.EventBus {
	case config.EventBusSNS:
		return services.NewSNSEventPublisher(awspkg.NewSNSClient(awsCfg), cfg.SNSTopicARN), func() {}
	case config.EventBusKafka:
		producer := kafka.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic, zl)
		return producer, producer.Close
	}
	return services.NewNoopPublisher(), func() {}
}

func sweepLimiter(ctx context.Context, rl *commonmw.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}
