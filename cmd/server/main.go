// Package main runs the multi-tenant SaaS HTTP server with WebSocket push
// and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nimbushq/backend/config"
	"github.com/nimbushq/backend/internal/admin"
	"github.com/nimbushq/backend/internal/apikeys"
	"github.com/nimbushq/backend/internal/auth"
	"github.com/nimbushq/backend/internal/billing"
	"github.com/nimbushq/backend/internal/invitations"
	"github.com/nimbushq/backend/internal/leads"
	"github.com/nimbushq/backend/internal/middleware"
	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/internal/notifications"
	"github.com/nimbushq/backend/internal/organizations"
	"github.com/nimbushq/backend/internal/realtime"
	"github.com/nimbushq/backend/internal/webhooks"
	"github.com/nimbushq/backend/pkg/database"
	"github.com/nimbushq/backend/pkg/queue"
	"github.com/nimbushq/backend/pkg/redis"
	"github.com/nimbushq/backend/pkg/response"
	"github.com/nimbushq/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AssetsBucket:         cfg.AWS.AssetsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireMinutes)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, cfg.JWT.RefreshExpireDays, logger)
	if cfg.Admin.BootstrapEmail != "" {
		if err := authRepo.PromoteToAdmin(ctx, cfg.Admin.BootstrapEmail); err != nil {
			logger.Warn("admin bootstrap promote failed", zap.Error(err))
		}
	}

	// Notifications and push
	notifRepo := notifications.NewRepository(pool)
	notifier := notifications.NewService(notifRepo, redisPubSub, logger)
	notifHandler := notifications.NewHandler(notifRepo, logger)

	// Outbound webhooks
	webhookRepo := webhooks.NewRepository(pool)
	dispatcher := webhooks.NewDispatcher(webhookRepo, jobQueue, logger)
	webhookHandler := webhooks.NewHandler(webhookRepo, logger)

	// Organizations
	orgRepo := organizations.NewRepository(pool)
	orgHandler := organizations.NewHandler(orgRepo, s3Client, notifier, dispatcher, logger)

	// Billing
	billingRepo := billing.NewRepository(pool)
	provider := billing.NewProviderClient(cfg.Billing.ProviderAPIBase, cfg.Billing.SecretKey)
	processor := billing.NewEventProcessor(billingRepo, notifier, dispatcher, jobQueue, cfg.Billing.GracePeriodDays, logger)
	billingHandler := billing.NewHandler(billingRepo, orgRepo, provider, processor, cfg.Billing, logger)

	// New orgs start a trial on the free plan.
	orgHandler.SetOnCreate(func(ctx context.Context, orgID uuid.UUID) {
		plan, err := billingRepo.GetPlanByKey(ctx, "free")
		if err != nil || plan == nil {
			logger.Error("load free plan failed", zap.Error(err))
			return
		}
		if _, err := billingRepo.CreateTrial(ctx, orgID, plan.ID, cfg.Billing.TrialDays); err != nil {
			logger.Error("create trial subscription failed",
				zap.String("organization_id", orgID.String()), zap.Error(err))
		}
	})

	// Invitations
	invRepo := invitations.NewRepository(pool)
	invHandler := invitations.NewHandler(invRepo, orgRepo, billingRepo, notifier, dispatcher, jobQueue, cfg, logger)

	// API keys
	keyRepo := apikeys.NewRepository(pool)
	keyHandler := apikeys.NewHandler(keyRepo, logger)

	// Leads
	leadRepo := leads.NewRepository(pool)
	leadHandler := leads.NewHandler(leadRepo, orgRepo, dispatcher, s3Client, logger)

	// Admin analytics
	adminRepo := admin.NewRepository(pool)
	adminHandler := admin.NewHandler(adminRepo, logger)

	jwtValidate := func(token string) (string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID.String(), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
	}
	router.GET("/plans", billingHandler.ListPlans)
	router.GET("/invitations/:token", invHandler.Preview)
	router.POST("/forms/:formKey/submissions", leadHandler.Submit)
	router.POST("/webhooks/billing", billingHandler.ProviderWebhook)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/me", authHandler.Me)
		api.GET("/users", middleware.RequireRole(string(models.PlatformRoleAdmin)), authHandler.List)

		// Invitation actions by token (the invitee side)
		api.POST("/invitations/:token/accept", invHandler.Accept)
		api.POST("/invitations/:token/decline", invHandler.Decline)

		// Notifications
		api.GET("/notifications", notifHandler.List)
		api.POST("/notifications/read-all", notifHandler.MarkAllRead)
		api.POST("/notifications/:id/read", notifHandler.MarkRead)

		// Organizations
		api.POST("/organizations", orgHandler.Create)
		api.GET("/organizations", orgHandler.ListMine)

		asMember := organizations.RequireOrgRole(orgRepo, models.OrgRoleMember)
		asAdmin := organizations.RequireOrgRole(orgRepo, models.OrgRoleAdmin)
		asOwner := organizations.RequireOrgRole(orgRepo, models.OrgRoleOwner)
		entitled := billing.RequireEntitlement(billingRepo, cfg.Billing.GracePeriodDays, logger)

		org := api.Group("/organizations/:id")
		{
			org.GET("", asMember, orgHandler.Get)
			org.PATCH("", asAdmin, orgHandler.Update)
			org.DELETE("", asOwner, orgHandler.Delete)
			org.POST("/logo-upload-url", asAdmin, orgHandler.GenerateLogoUploadURL)
			org.POST("/leave", asMember, orgHandler.Leave)

			org.GET("/members", asMember, orgHandler.ListMembers)
			org.PATCH("/members/:userId", asAdmin, orgHandler.UpdateMemberRole)
			org.DELETE("/members/:userId", asAdmin, orgHandler.RemoveMember)

			org.POST("/invitations", asAdmin, invHandler.Create)
			org.GET("/invitations", asAdmin, invHandler.List)
			org.DELETE("/invitations/:invitationId", asAdmin, invHandler.Revoke)
			org.POST("/invitations/:invitationId/resend", asAdmin, invHandler.Resend)

			org.GET("/billing/subscription", asAdmin, billingHandler.GetSubscription)
			org.POST("/billing/checkout", asOwner, billingHandler.CreateCheckout)
			org.POST("/billing/portal", asOwner, billingHandler.CreatePortal)
			org.POST("/billing/cancel", asOwner, billingHandler.Cancel)
			org.POST("/billing/resume", asOwner, billingHandler.Resume)

			org.POST("/api-keys", asAdmin, entitled, keyHandler.Create)
			org.GET("/api-keys", asAdmin, keyHandler.List)
			org.DELETE("/api-keys/:keyId", asAdmin, keyHandler.Revoke)

			org.POST("/webhook-endpoints", asAdmin, entitled, webhookHandler.Create)
			org.GET("/webhook-endpoints", asAdmin, webhookHandler.List)
			org.GET("/webhook-endpoints/:endpointId", asAdmin, webhookHandler.Get)
			org.PATCH("/webhook-endpoints/:endpointId", asAdmin, webhookHandler.Update)
			org.DELETE("/webhook-endpoints/:endpointId", asAdmin, webhookHandler.Delete)
			org.POST("/webhook-endpoints/:endpointId/rotate-secret", asAdmin, webhookHandler.RotateSecret)
			org.GET("/webhook-endpoints/:endpointId/deliveries", asAdmin, webhookHandler.ListDeliveries)
			org.GET("/webhook-endpoints/:endpointId/stats", asAdmin, webhookHandler.Stats)

			org.GET("/leads", asMember, entitled, leadHandler.List)
			org.GET("/leads/:leadId/submissions", asMember, entitled, leadHandler.ListSubmissions)
			org.POST("/leads/export", asAdmin, entitled, leadHandler.Export)

			org.GET("/analytics", asAdmin, adminHandler.OrgStats)
		}

		// Platform admin
		adminGroup := api.Group("/admin", middleware.RequireRole(string(models.PlatformRoleAdmin)))
		{
			adminGroup.GET("/stats", adminHandler.Stats)
			adminGroup.GET("/organizations", adminHandler.ListOrganizations)
		}
	}

	// Machine API (API key auth, no user session)
	machine := router.Group("/api/v1", apikeys.Auth(keyRepo, logger))
	{
		machine.GET("/leads", leadHandler.List)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
