package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/orgtrain-api/internal/handler"
	"github.com/noah-isme/orgtrain-api/internal/middleware"
	"github.com/noah-isme/orgtrain-api/internal/models"
	"github.com/noah-isme/orgtrain-api/internal/service"
	"github.com/noah-isme/orgtrain-api/pkg/config"
	"github.com/noah-isme/orgtrain-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/orgtrain-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/orgtrain-api/pkg/middleware/requestid"
)

type routeDeps struct {
	auth    middleware.TokenValidator
	audit   middleware.AuditWriter
	viewer  middleware.EnrollmentViewer
	metrics *service.MetricsService

	authH       *handler.AuthHandler
	courseTabH  *handler.CourseTabHandler
	enrollmentH *handler.EnrollmentHandler
	approvalH   *handler.ApprovalHandler
	roleH       *handler.UserRoleHandler
	metricsH    *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.metricsH.Health)
	r.GET("/ready", deps.metricsH.Ready)
	r.GET("/metrics", deps.metricsH.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", deps.authH.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))
	secured.GET("/auth/me", deps.authH.Me)

	adminOnly := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	secured.GET("/metrics/summary", adminOnly, deps.metricsH.Summary)

	roles := secured.Group("/users/:id/roles")
	roles.GET("", middleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin), "SELF"), deps.roleH.List)
	roles.POST("", adminOnly, deps.roleH.Grant)
	roles.DELETE("/:role", adminOnly, deps.roleH.Revoke)

	if !cfg.Approvals.Enabled {
		logr.Warn("approval endpoints disabled")
		return r
	}

	tabs := secured.Group("/course-tabs")
	tabs.GET("", deps.courseTabH.List)
	tabs.GET("/:id", deps.courseTabH.Get)
	tabs.GET("/:id/steps", deps.courseTabH.Steps)
	tabs.POST("", adminOnly, deps.courseTabH.Create)
	tabs.PUT("/:id/steps", adminOnly, deps.courseTabH.ReplaceSteps)

	participant := middleware.EnrollmentParticipant(deps.viewer)
	enrollments := secured.Group("/enrollments")
	enrollments.GET("", adminOnly, deps.enrollmentH.List)
	enrollments.POST("", deps.enrollmentH.Create)
	enrollments.GET("/:id", participant, deps.enrollmentH.Get)
	enrollments.POST("/:id/chain", adminOnly, deps.enrollmentH.InstantiateChain)
	enrollments.GET("/:id/steps", participant, deps.approvalH.Steps)
	enrollments.POST("/:id/steps/:stepId/decision", deps.approvalH.Decide)
	if cfg.Exports.Enabled {
		enrollments.GET("/:id/approval-trail",
			participant,
			middleware.Audit(deps.audit, models.AuditActionTrailExport, "enrollment"),
			deps.approvalH.Trail)
	}

	return r
}
