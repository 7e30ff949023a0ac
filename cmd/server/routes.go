package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/config"
	"nonlinear-editor-backend/internal/handlers"
	"nonlinear-editor-backend/internal/middleware"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/ratelimit"
	"nonlinear-editor-backend/internal/services"
)

type routeDeps struct {
	health     *handlers.HealthHandler
	projects   *handlers.ProjectsHandler
	assets     *handlers.AssetsHandler
	generation *handlers.GenerationHandler
	account    *handlers.AccountHandler
	billing    *handlers.BillingHandler
	admin      *handlers.AdminHandler
	usage      *services.UsageService
	limiter    ratelimit.Limiter
	auditor    middleware.Auditor
}

func newRouter(cfg *config.Config, logger *zap.Logger, d routeDeps) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.RequestLogger(logger),
		middleware.Metrics(),
	)

	rl := middleware.RateLimitConfig{
		Enabled: cfg.RateLimitEnabled,
		Limiter: d.limiter,
		Logger:  logger,
		Auditor: d.auditor,
	}
	limit := func(tier ratelimit.Tier) gin.HandlerFunc { return middleware.RateLimit(rl, tier) }

	router.GET("/health", d.health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks authenticate with a signature, not a bearer token.
	router.POST("/api/v1/webhooks/stripe", limit(ratelimit.TierWebhook), d.billing.StripeWebhook)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg), limit(ratelimit.TierGeneral))

	// Projects and timeline
	api.POST("/projects", limit(ratelimit.TierResourceCreation), d.projects.CreateProject)
	api.GET("/projects", d.projects.ListProjects)
	api.GET("/projects/:project_id", d.projects.GetProject)
	api.PATCH("/projects/:project_id", d.projects.UpdateProject)
	api.DELETE("/projects/:project_id", d.projects.DeleteProject)
	api.GET("/projects/:project_id/timeline", d.projects.GetTimeline)
	api.PUT("/projects/:project_id/timeline", d.projects.SaveTimeline)
	api.POST("/projects/:project_id/timeline/clips", d.projects.AddClip)
	api.DELETE("/projects/:project_id/timeline/clips/:clip_id", d.projects.RemoveClip)
	api.POST("/projects/:project_id/timeline/clips/:clip_id/move", d.projects.MoveClip)
	api.POST("/projects/:project_id/timeline/clips/:clip_id/split", d.projects.SplitClip)
	api.GET("/projects/:project_id/bundle", d.projects.GetBundle)

	// Assets
	api.GET("/projects/:project_id/assets", d.assets.ListAssets)
	api.POST("/projects/:project_id/assets", limit(ratelimit.TierResourceCreation), d.assets.UploadAsset)
	api.GET("/assets/:asset_id", d.assets.GetAsset)
	api.GET("/assets/:asset_id/url", d.assets.GetAssetURL)
	api.DELETE("/assets/:asset_id", d.assets.DeleteAsset)

	// Generation
	api.POST("/projects/:project_id/generate/:kind", limit(ratelimit.TierResourceCreation), d.generation.Generate)
	api.GET("/projects/:project_id/jobs", d.generation.ListJobs)
	api.GET("/jobs/:job_id", limit(ratelimit.TierStatusRead), d.generation.GetJob)
	api.DELETE("/jobs/:job_id", d.generation.CancelJob)

	// Account and billing
	api.GET("/account", d.account.GetAccount)
	api.GET("/account/usage", d.account.GetUsage)
	api.GET("/account/export", d.account.ExportAccount)
	api.DELETE("/account", limit(ratelimit.TierAuthPayment), d.account.DeleteAccount)
	api.POST("/billing/checkout", limit(ratelimit.TierAuthPayment), d.billing.Checkout)

	admin := api.Group("/admin", middleware.RequireTier(d.usage, models.TierAdmin))
	admin.PUT("/users/:user_id/tier", d.admin.SetTier)
	admin.GET("/cache/stats", d.admin.CacheStats)
	admin.DELETE("/cache", d.admin.ClearCache)

	return router
}
