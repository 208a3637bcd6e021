package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campushub/campus-api/api/swagger"
	"github.com/campushub/campus-api/internal/handler"
	"github.com/campushub/campus-api/internal/middleware"
	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/internal/repository"
	"github.com/campushub/campus-api/internal/service"
	"github.com/campushub/campus-api/pkg/cache"
	"github.com/campushub/campus-api/pkg/config"
	"github.com/campushub/campus-api/pkg/database"
	"github.com/campushub/campus-api/pkg/jobs"
	"github.com/campushub/campus-api/pkg/logger"
	corsmiddleware "github.com/campushub/campus-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campushub/campus-api/pkg/middleware/requestid"
	"github.com/campushub/campus-api/pkg/storage"
)

// @title CampusHub Session & Role Authority API
// @version 1.0.0
// @description Token issuance with device binding, single-session enforcement and role authority
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The session cache is an accelerator; Postgres stays authoritative.
		logr.Sugar().Warnw("redis unavailable, running without session cache", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	securityRepo := repository.NewSecurityEventRepository(db)
	sessionCache := repository.NewSessionCacheRepository(redisClient, logr)

	validate := validator.New()

	metricsSvc := service.NewMetricsService()
	securitySvc := service.NewSecurityService(securityRepo, metricsSvc, logr)
	if cfg.Reports.Enabled {
		archive, err := storage.NewArchive(cfg.Reports.Dir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare report archive", "error", err)
		}
		securitySvc.EnableArchive(archive, storage.NewLinkSigner(cfg.Token.Secret, cfg.Reports.LinkTTL), cfg.Reports.MaxRows)
	}
	securitySvc.StartQueue(ctx, jobs.Config{
		Workers:    cfg.Security.EventWorkers,
		BufferSize: cfg.Security.EventBuffer,
		MaxRetries: int(cfg.Security.StoreRetryMax),
		RetryDelay: cfg.Security.StoreRetryBackoff,
		Logger:     logr,
	})
	defer securitySvc.StopQueue()

	sessionSvc := service.NewSessionService(sessionRepo, sessionCache, securitySvc, metricsSvc, logr, cfg.Session, cfg.Security)
	authSvc := service.NewAuthService(userRepo, tokenRepo, sessionSvc, securitySvc, metricsSvc, validate, logr, cfg.Token, cfg.Session)
	userSvc := service.NewUserService(userRepo, tokenRepo, sessionSvc, validate, logr)
	roleSvc := service.NewRoleService(roleRepo, userRepo, tokenRepo, sessionSvc, securitySvc, logr)

	authHandler := handler.NewAuthHandler(authSvc, sessionSvc)
	userHandler := handler.NewUserHandler(userSvc)
	adminHandler := handler.NewAdminHandler(roleSvc, userSvc, authSvc, securitySvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	authenticated := api.Group("")
	authenticated.Use(middleware.Auth(authSvc, sessionSvc, userSvc))
	{
		authenticated.POST("/auth/logout", authHandler.Logout)
		authenticated.POST("/auth/logout-all", authHandler.LogoutAll)
		authenticated.GET("/auth/session", authHandler.Session)

		authenticated.GET("/users/me", userHandler.Me)
		authenticated.PATCH("/users/me", userHandler.UpdateMe)
		authenticated.DELETE("/users/me", userHandler.DeleteMe)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.Auth(authSvc, sessionSvc, userSvc))
	admin.Use(middleware.RequireAdmin(roleSvc, securitySvc))
	{
		admin.GET("/users", adminHandler.ListUsers)
		admin.GET("/users/:id", adminHandler.GetUser)
		admin.POST("/users/:id/revoke-sessions", adminHandler.RevokeUserSessions)

		admin.POST("/roles/promote", middleware.Audit(userRepo, models.AuditActionRoleChange, "roles"), adminHandler.Promote)
		admin.POST("/roles/demote-admin", middleware.Audit(userRepo, models.AuditActionRoleChange, "roles"), adminHandler.DemoteAdmin)
		admin.POST("/roles/remove-counselor", middleware.Audit(userRepo, models.AuditActionRoleChange, "roles"), adminHandler.RemoveCounselor)

		admin.GET("/security-events", adminHandler.SecurityEvents)
		if cfg.Reports.Enabled {
			admin.GET("/security-events/export", adminHandler.ExportSecurityEvents)
			admin.POST("/security-events/archive", adminHandler.ArchiveSecurityEvents)
		}
	}

	if cfg.Reports.Enabled {
		// The signed token carried in the query is the download credential.
		api.GET("/reports/download", adminHandler.DownloadReport)
	}

	superadmin := api.Group("/admin/roles")
	superadmin.Use(middleware.Auth(authSvc, sessionSvc, userSvc))
	superadmin.Use(middleware.RequireSuperAdmin(roleSvc, securitySvc))
	{
		superadmin.POST("/remove-superadmin", middleware.Audit(userRepo, models.AuditActionRoleChange, "roles"), adminHandler.RemoveSuperAdmin)
	}

	go runSweeper(ctx, cfg.Session.SweepInterval, cfg.Reports.LinkTTL, sessionSvc, authSvc, securitySvc)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// runSweeper deletes expired sessions, refresh tokens and archived reports
// on a schedule.
func runSweeper(ctx context.Context, interval, reportTTL time.Duration, sessions *service.SessionService, auth *service.AuthService, security *service.SecurityService) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Sweep(ctx)
			auth.SweepExpiredTokens(ctx)
			security.SweepArchive(reportTTL)
		}
	}
}
