package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/orgtrain-api/api/swagger"
	"github.com/noah-isme/orgtrain-api/internal/handler"
	"github.com/noah-isme/orgtrain-api/internal/repository"
	"github.com/noah-isme/orgtrain-api/internal/service"
	"github.com/noah-isme/orgtrain-api/pkg/cache"
	"github.com/noah-isme/orgtrain-api/pkg/config"
	"github.com/noah-isme/orgtrain-api/pkg/database"
	"github.com/noah-isme/orgtrain-api/pkg/jobs"
	"github.com/noah-isme/orgtrain-api/pkg/logger"
)

// @title OrgTrain API
// @version 1.0.0
// @description Course enrollments with sequential approval chains
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// role lookups fall back to postgres when redis is unavailable
		logr.Warn("redis unavailable, role cache disabled", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	app := buildApp(cfg, db, redisClient, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.notifications.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "prefix", cfg.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	app.notifications.Stop()
	logr.Info("server stopped")
}

type app struct {
	router        *gin.Engine
	notifications *jobs.Queue
}

func buildApp(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) *app {
	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	tabRepo := repository.NewCourseTabRepository(db)
	enrollmentRepo := repository.NewCourseEnrollmentRepository(db)
	stepRepo := repository.NewApprovalStepRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Approvals.RoleCacheTTL, logr.Named("cache"), redisClient != nil)

	authSvc := service.NewAuthService(userRepo, validate, logr.Named("auth"), service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	resolver := service.NewCachedRoleResolver(userRepo, cacheSvc, cfg.Approvals.HeadRoles, cfg.Approvals.RoleCacheTTL, logr.Named("roles"))
	tabSvc := service.NewCourseTabService(tabRepo, userRepo, validate, logr.Named("course_tabs"))
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, tabRepo, stepRepo, userRepo, validate, logr.Named("enrollments"))
	approvalSvc := service.NewApprovalService(stepRepo, tabRepo, enrollmentRepo, resolver, userRepo, metrics, validate, logr.Named("approvals"))
	roleSvc := service.NewUserRoleService(userRepo, resolver, validate, logr.Named("roles"))
	exportSvc := service.NewExportService(enrollmentRepo, stepRepo, logr.Named("exports"), nil)

	worker := service.NewNotificationWorker(userRepo, metrics, logr.Named("notifications"))
	queue := jobs.NewQueue("approval-notifications", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.Retries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	})
	notifier := service.NewNotificationService(queue, metrics, logr.Named("notifications"))

	checks := map[string]handler.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return database.Ping(ctx, db) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return cache.Ping(ctx, redisClient) }
	}

	router := newRouter(cfg, logr, routeDeps{
		auth:        authSvc,
		audit:       userRepo,
		viewer:      approvalSvc,
		metrics:     metrics,
		authH:       handler.NewAuthHandler(authSvc),
		courseTabH:  handler.NewCourseTabHandler(tabSvc),
		enrollmentH: handler.NewEnrollmentHandler(enrollmentSvc, approvalSvc),
		approvalH:   handler.NewApprovalHandler(approvalSvc, notifier, exportSvc),
		roleH:       handler.NewUserRoleHandler(roleSvc),
		metricsH:    handler.NewMetricsHandler(metrics, checks),
	})

	return &app{router: router, notifications: queue}
}
