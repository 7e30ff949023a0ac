// @title           Nonlinear Editor Backend API
// @version         1.0.0
// @description     Backend API for a browser-based video editor: projects and timelines, media assets, AI generation jobs, usage tiers and billing.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/audit"
	"nonlinear-editor-backend/internal/billing"
	"nonlinear-editor-backend/internal/cache"
	"nonlinear-editor-backend/internal/config"
	"nonlinear-editor-backend/internal/database"
	"nonlinear-editor-backend/internal/generation"
	"nonlinear-editor-backend/internal/handlers"
	"nonlinear-editor-backend/internal/logging"
	"nonlinear-editor-backend/internal/ratelimit"
	"nonlinear-editor-backend/internal/server"
	"nonlinear-editor-backend/internal/services"
	"nonlinear-editor-backend/internal/supabase"
)

const (
	startupTimeout  = 30 * time.Second
	limiterSweep    = time.Minute
	pollerBatchSize = services.DefaultPollBatch
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required to serve the API")
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	db, err := supabase.NewDatabaseClient(startCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	applied, err := database.NewMigrator(db.DB(), logger).Run(startCtx)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations complete", zap.Int("applied", len(applied)))

	objects := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseStorageBucket)

	appCache, err := cache.New(cache.Options{
		Name:            "app",
		MaxEntries:      cfg.CacheMaxEntries,
		DefaultTTL:      cfg.CacheDefaultTTL,
		CleanupInterval: cfg.CacheCleanupInterval,
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	memLimiter := ratelimit.NewMemoryLimiter(nil)
	memLimiter.StartJanitor(limiterSweep)
	var limiter ratelimit.Limiter = memLimiter
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(startCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, rate limits fall back to memory", zap.Error(err))
		}
		limiter = ratelimit.NewRedisLimiter(redisClient, memLimiter, logger)
	}

	auditLogger := audit.NewLogger(db, logger.Named("audit"), cfg.AuditMaxAttempts)

	var gateway services.GenerationGateway
	if cfg.GenerationEnabled() {
		gateway = generation.NewClient(cfg.GenerationAPIBaseURL, cfg.GenerationAPIKey, cfg.GenerationRequestsPerSecond)
	} else {
		logger.Warn("GENERATION_API_BASE_URL not set, AI generation is disabled")
	}

	var billingGateway services.BillingGateway
	if cfg.BillingEnabled() {
		billingGateway = billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret,
			cfg.StripePremiumPriceID, cfg.BillingSuccessURL, cfg.BillingCancelURL)
	} else {
		logger.Warn("Stripe is not configured, billing is disabled")
	}

	usage := services.NewUsageService(db, db, appCache, logger)
	projects := services.NewProjectService(db, objects, usage, appCache, auditLogger, logger)
	assets := services.NewAssetService(db, objects, projects, usage, appCache, auditLogger, logger)
	gen := services.NewGenerationService(db, objects, gateway, projects, usage, appCache, auditLogger, logger, cfg.GenerationJobTimeout)
	account := services.NewAccountService(db, objects, billingGateway, usage, appCache, auditLogger, logger)
	billingService := services.NewBillingService(db, billingGateway, usage, auditLogger, logger)

	checks := map[string]handlers.Pinger{"database": db}
	if redisClient != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	router := newRouter(cfg, logger, routeDeps{
		health:     handlers.NewHealthHandler(checks, logger),
		projects:   handlers.NewProjectsHandler(projects),
		assets:     handlers.NewAssetsHandler(assets, cfg.MaxMultipartMemory),
		generation: handlers.NewGenerationHandler(gen),
		account:    handlers.NewAccountHandler(account),
		billing:    handlers.NewBillingHandler(billingService),
		admin:      handlers.NewAdminHandler(account, appCache, logger),
		usage:      usage,
		limiter:    limiter,
		auditor:    auditLogger,
	})

	srv := server.New(router, cfg, logger)

	// Registered in dependency order; they stop in reverse.
	srv.OnShutdown("database", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		srv.OnShutdown("redis", func(context.Context) error { return redisClient.Close() })
	}
	srv.OnShutdown("audit", auditLogger.Close)
	srv.OnShutdown("cache", func(context.Context) error {
		appCache.Close()
		return nil
	})
	srv.OnShutdown("rate limiter", func(context.Context) error {
		memLimiter.Close()
		return nil
	})

	pollCtx, stopPoller := context.WithCancel(context.Background())
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		gen.RunPoller(pollCtx, cfg.GenerationPollInterval, pollerBatchSize)
	}()
	srv.OnShutdown("generation poller", func(ctx context.Context) error {
		stopPoller()
		select {
		case <-pollerDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	return srv.Run(context.Background())
}
