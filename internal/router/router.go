package router

import (
	"net/http"

	"notifybridge/internal/common"
	"notifybridge/internal/config"
	"notifybridge/internal/domain/notification"
	"notifybridge/internal/middleware"
	"notifybridge/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New creates the admin API router with all middleware and routes.
func New(
	cfg *config.Config,
	notificationHandler *notification.Handler,
) *gin.Engine {
	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// Global middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	// Rate limiter
	rateLimiter := middleware.NewRateLimiter(
		cfg.RateLimit.RequestsPerSecond,
		cfg.RateLimit.Burst,
		config.Seconds(cfg.RateLimit.IdleTTLSec),
	)
	r.Use(rateLimiter.Middleware())

	r.Use(middleware.AccessLog())

	// Public routes
	r.GET("/health", healthCheck)

	// Protected API routes (API key required)
	protectedAPI := r.Group("/api/v1")
	protectedAPI.Use(middleware.Auth(cfg.Auth.APIKeys))
	{
		notificationHandler.RegisterRoutes(protectedAPI)
	}

	return r
}

// LoopStates reports the scheduler's view of each loop.
type LoopStates interface {
	Names() []string
	State(name string) (scheduler.State, bool)
}

// NewWorker creates the worker's operational router: health with per-loop
// state, and Prometheus metrics from gatherer.
func NewWorker(loops LoopStates, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		states := make(map[string]scheduler.State)
		for _, name := range loops.Names() {
			if st, ok := loops.State(name); ok {
				states[name] = st
			}
		}
		common.Success(c, http.StatusOK, gin.H{
			"status":  "ok",
			"service": "notifybridge-worker",
			"loops":   states,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

// healthCheck handles GET /health
func healthCheck(c *gin.Context) {
	common.Success(c, http.StatusOK, gin.H{
		"status":  "ok",
		"service": "notifybridge",
	})
}
