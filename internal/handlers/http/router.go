package http

import (
	"context"
	"net/http"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/internal/core/services"
	"confvideo/internal/infrastructure/middleware"
	"confvideo/internal/infrastructure/monitoring"
	"confvideo/internal/infrastructure/signal"
	"confvideo/pkg/config"
	"confvideo/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies are the services the control API is served from.
type Dependencies struct {
	Receiver  ports.ReceiverService
	Directory ports.ParticipantDirectory
	// Auth is nil when authentication is disabled.
	Auth   services.AuthService
	Health *monitoring.HealthChecker
	Feed   *signal.FeedServer
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter builds the gin engine of the receiver service.
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	startTime := time.Now()
	log := deps.Logger.Sugar()

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogMiddleware(logger.NewContextLogger(deps.Logger)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(ErrorMapping(), log),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    monitoring.StatusHealthy,
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := deps.Health.CheckAll(ctx)
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	requireRole := func(role domain.Role) gin.HandlerFunc {
		if deps.Auth == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RequireRole(deps.Auth, role)
	}
	authenticated := router.Group("/")
	if deps.Auth != nil {
		authenticated.Use(middleware.AuthMiddleware(deps.Auth))
	}

	authenticated.GET("/ws", requireRole(domain.RoleViewer), gin.WrapF(deps.Feed.HandleWebSocket))
	router.GET("/ws/health", gin.WrapF(deps.Feed.HealthCheck))

	sessions := NewSessionHandler(deps.Receiver)
	participants := NewParticipantHandler(deps.Directory)
	streamNames := NewStreamNameHandler()

	viewer := authenticated.Group("/api/v1", requireRole(domain.RoleViewer))
	{
		viewer.GET("/sessions", sessions.ListSessions)
		viewer.GET("/sessions/:id", sessions.GetSession)
		viewer.GET("/participants", participants.ListParticipants)
		viewer.GET("/participants/:id", participants.GetParticipant)
		viewer.GET("/stream-names/ratio", streamNames.AspectRatio)
		viewer.POST("/stream-names", streamNames.Format)
	}

	operator := authenticated.Group("/api/v1", requireRole(domain.RoleOperator))
	{
		operator.POST("/sessions", sessions.OpenSession)
		operator.POST("/sessions/:id/start", sessions.StartSession)
		operator.POST("/sessions/:id/stop", sessions.StopSession)
		operator.DELETE("/sessions/:id", sessions.CloseSession)
		operator.PUT("/participants/:id", participants.UpsertParticipant)
		operator.DELETE("/participants/:id", participants.RemoveParticipant)
	}

	if deps.Auth != nil {
		auth := NewAuthHandler(deps.Auth)
		viewer.GET("/auth/whoami", auth.WhoAmI)
		operator.POST("/auth/tokens", auth.IssueToken)
	}

	return router
}
