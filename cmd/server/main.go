package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appbilling "github.com/planform/backend/internal/application/billing"
	"github.com/planform/backend/internal/domain/shared"
	"github.com/planform/backend/internal/infrastructure/archive"
	infrabilling "github.com/planform/backend/internal/infrastructure/billing"
	"github.com/planform/backend/internal/infrastructure/cache"
	"github.com/planform/backend/internal/infrastructure/config"
	"github.com/planform/backend/internal/infrastructure/logger"
	"github.com/planform/backend/internal/infrastructure/persistence"
	"github.com/planform/backend/internal/infrastructure/telemetry"
	"github.com/planform/backend/internal/interfaces/http/handler"
	"github.com/planform/backend/internal/interfaces/http/middleware"
	"github.com/planform/backend/internal/interfaces/http/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env))

	ctx := context.Background()

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}

	billingMetrics, err := telemetry.NewBillingMetrics(meterProvider.Meter("planform/billing"), log)
	if err != nil {
		log.Fatal("Failed to create billing metrics", zap.Error(err))
	}

	gormLogger := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLogger)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Telemetry.DBTraceEnabled {
		if err := db.EnableTracing(); err != nil {
			log.Fatal("Failed to enable database tracing", zap.Error(err))
		}
	}

	dedupStore, err := cache.NewDedupStore(cache.DedupStoreType(cfg.Dedup.Store), cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal("Failed to create dedup store", zap.Error(err))
	}
	defer dedupStore.Close()

	tenantRepo := persistence.NewGormTenantRepository(db.DB)
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)
	auditRepo := persistence.NewGormAuditRepository(db.DB)

	var adapters []appbilling.ProviderAdapter
	if cfg.Billing.StripeEnabled {
		verifier, err := infrabilling.NewStripeVerifier(&cfg.Billing.Stripe)
		if err != nil {
			log.Fatal("Invalid Stripe configuration", zap.Error(err))
		}
		adapters = append(adapters, appbilling.NewStripeWebhookService(verifier, log))
	}
	if cfg.Billing.PaddleEnabled {
		verifier, err := infrabilling.NewPaddleVerifier(&cfg.Billing.Paddle)
		if err != nil {
			log.Fatal("Invalid Paddle configuration", zap.Error(err))
		}
		adapters = append(adapters, appbilling.NewPaddleWebhookService(verifier, log))
	}

	engine := appbilling.NewTransitionEngine(appbilling.TransitionEngineConfig{
		DB:            db.DB,
		Tenants:       tenantRepo,
		Subscriptions: subscriptionRepo,
		Audits:        auditRepo,
		Metrics:       billingMetrics,
		Logger:        log,
	})

	pipeline := appbilling.NewWebhookPipeline(appbilling.WebhookPipelineConfig{
		Adapters: adapters,
		Dedup:    dedupStore,
		DedupCfg: shared.DedupConfig{TTL: cfg.Dedup.TTL},
		Tenants:  tenantRepo,
		Audits:   auditRepo,
		Engine:   engine,
		Metrics:  billingMetrics,
		Logger:   log,
	})

	var archiver *archive.S3AuditArchiver
	if cfg.Archive.Enabled {
		archiver, err = archive.NewS3AuditArchiver(&cfg.Archive, auditRepo, log)
		if err != nil {
			log.Fatal("Failed to create audit archiver", zap.Error(err))
		}
		archiver.Start()
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	ginEngine := gin.New()
	if err := ginEngine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	ginEngine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.SecurityHeaders(),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	r := router.NewRouter(ginEngine)
	r.Register(handler.NewWebhookHandler(pipeline))
	r.RegisterRoot(handler.NewHealthHandler(db))
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        ginEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}

	if archiver != nil {
		archiver.Stop()
	}

	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics shutdown failed", zap.Error(err))
	}

	log.Info("Server stopped")
}
