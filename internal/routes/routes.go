// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"nori-bridge/internal/config"
	"nori-bridge/internal/handler"
	"nori-bridge/internal/metrics"
	"nori-bridge/internal/middleware"
	"nori-bridge/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config   *config.Config
	logger   *zap.Logger
	db       handler.HealthChecker
	bridge   handler.BridgeController
	host     *handler.HostHandler
	registry *prometheus.Registry
}

// NewRouter creates a new router instance. db and registry may be nil.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db handler.HealthChecker,
	bridge handler.BridgeController,
	host *handler.HostHandler,
	registry *prometheus.Registry,
) *Router {
	return &Router{
		config:   config,
		logger:   logger,
		db:       db,
		bridge:   bridge,
		host:     host,
		registry: registry,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
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

	r.logger.Info("Middleware configured")
}

func (r *Router) addRoutes(router *gin.Engine) {
	handler.NewHealthHandler(r.db, r.bridge, r.config, r.logger).RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	handler.NewBridgeHandler(r.bridge, r.logger).RegisterRoutes(apiV1)

	if r.host != nil {
		r.host.RegisterRoutes(router.Group("/ws"))
		r.host.RegisterAPIRoutes(apiV1)
	}

	if r.config.Metrics.Enabled && r.registry != nil {
		router.GET(r.config.Metrics.Path, gin.WrapH(metrics.Handler(r.registry)))
	}

	r.logger.Info("All routes configured successfully")
}
