// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"winder-service/internal/config"
	"winder-service/internal/handler"
	"winder-service/internal/middleware"
	"winder-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	db        handler.DatabaseChecker
	winder    handler.Winder
	discovery handler.PortDiscovery
	wsHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance. db is nil when session history is disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db handler.DatabaseChecker,
	winder handler.Winder,
	discovery handler.PortDiscovery,
	wsHandler *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:    config,
		logger:    logger,
		db:        db,
		winder:    winder,
		discovery: discovery,
		wsHandler: wsHandler,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	if r.config.Security.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(&r.config.Security, utils.NewSecurityLogger(r.logger))
		router.Use(limiter.Middleware())
	}

	r.logger.Info("Middleware configured",
		zap.Bool("rate_limit", r.config.Security.RateLimitEnabled),
	)
}

func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.winder, r.config, r.logger)
	winderHandler := handler.NewWinderHandler(r.winder, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.discovery, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router.Group(""))

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	winderHandler.RegisterRoutes(apiV1)
	discoveryHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
