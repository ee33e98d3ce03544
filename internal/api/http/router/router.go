package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dtroode/moodist-server/internal/api/http/handler"
	"github.com/dtroode/moodist-server/internal/api/http/middleware"
	"github.com/dtroode/moodist-server/internal/logger"
	"github.com/dtroode/moodist-server/internal/metrics"
)

// AuthService serves the auth routes, sessions and the health check.
type AuthService interface {
	handler.AuthService
	middleware.Authenticator
	handler.Pinger
}

// Services bundles what the HTTP routes are served from.
type Services struct {
	Auth        AuthService
	Connections handler.ConnectionService
}

// Options configures the router.
type Options struct {
	AllowOrigins []string
	Cookie       handler.CookieConfig
	Version      string
}

// Router builds the gin engine for the public API.
type Router struct {
	services Services
	metrics  *metrics.Metrics
	logger   *logger.Logger
	opts     Options
}

// New creates new HTTP Router instance.
func New(services Services, metrics *metrics.Metrics, logger *logger.Logger, opts Options) *Router {
	return &Router{
		services: services,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

// Register builds the engine with middleware and every route.
func (r *Router) Register() *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	logging := middleware.NewLogging(r.logger)
	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		logging.Handle,
		middleware.Metrics(r.metrics),
		cors.New(cors.Config{
			AllowOrigins:     r.opts.AllowOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders:    []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
	)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": handler.CodeNotFound, "message": "Not found"})
	})

	health := handler.NewHealth(r.services.Auth, r.opts.Version, r.logger)
	engine.GET("/health", health.Check)
	if r.metrics != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.metrics.Registry, promhttp.HandlerOpts{})))
	}

	session := middleware.NewSession(r.services.Auth, r.logger)
	r.registerAuthRoutes(engine, session)
	r.registerAPIRoutes(engine, session)

	return engine
}

func (r *Router) registerAuthRoutes(engine *gin.Engine, session *middleware.Session) {
	auth := handler.NewAuth(r.services.Auth, r.opts.Cookie, r.logger)

	group := engine.Group("/auth")
	{
		group.POST("/create-user/:role", auth.CreateUser)
		group.POST("/verify", auth.Verify)
		group.GET("/verify-link/:token", auth.VerifyLink)
		group.POST("/resend-verification", auth.ResendVerification)
		group.POST("/login", auth.Login)
		group.POST("/logout", auth.Logout)
		group.POST("/:role/request-password-reset", auth.RequestPasswordReset)
		group.POST("/:role/reset-password", auth.ResetPassword)
		group.POST("/change-user-id", session.Require, auth.ChangeIdentifier)
	}

	engine.GET("/api/users/:unique_id", session.Require, auth.LookupUser)
}

func (r *Router) registerAPIRoutes(engine *gin.Engine, session *middleware.Session) {
	connections := handler.NewConnection(r.services.Connections, r.logger)

	group := engine.Group("/api/connections", session.Require)
	{
		group.GET("", connections.List)
		group.POST("", connections.Request)
		group.POST("/:id/respond", connections.Respond)
		group.POST("/:id/revoke", connections.Revoke)
	}
}
