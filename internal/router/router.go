package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	appointmenthandler "github.com/jwalitptl/medilink-api/internal/handler/appointment"
	authhandler "github.com/jwalitptl/medilink-api/internal/handler/auth"
	"github.com/jwalitptl/medilink-api/internal/handler/health"
	promhandler "github.com/jwalitptl/medilink-api/internal/handler/prometheus"
	reporthandler "github.com/jwalitptl/medilink-api/internal/handler/report"
	userhandler "github.com/jwalitptl/medilink-api/internal/handler/user"
	"github.com/jwalitptl/medilink-api/internal/middleware"
)

// Handlers groups the route handlers mounted by the router.
type Handlers struct {
	Auth        *authhandler.Handler
	User        *userhandler.Handler
	Appointment *appointmenthandler.Handler
	Report      *reporthandler.Handler
	Health      *health.Handler
	Metrics     *promhandler.Handler
}

type RouterConfig struct {
	// AuthRateLimit applies per client IP to /auth routes; zero disables it.
	AuthRateLimit rate.Limit
	AuthRateBurst int
	CORSConfig    middleware.CORSConfig
	Timeout       middleware.TimeoutConfig
	SizeLimit     middleware.SizeLimitConfig
	Logger        middleware.LoggerConfig
	Security      middleware.SecurityConfig
}

type Router struct {
	engine *gin.Engine
	auth   *middleware.AuthMiddleware
	h      Handlers
	config RouterConfig
}

func NewRouter(auth *middleware.AuthMiddleware, h Handlers, config RouterConfig) *Router {
	engine := gin.New()

	r := &Router{
		engine: engine,
		auth:   auth,
		h:      h,
		config: config,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(config.Logger),
		middleware.ErrorHandler(),
	)
	if h.Metrics != nil {
		engine.Use(h.Metrics.Middleware())
	}
	engine.Use(
		middleware.CORS(config.CORSConfig),
		middleware.SecurityHeaders(config.Security),
		middleware.SizeLimit(config.SizeLimit),
		middleware.Timeout(config.Timeout),
	)

	return r
}

func (r *Router) Setup() {
	if r.h.Metrics != nil {
		r.engine.GET("/metrics", r.h.Metrics.Handler())
	}

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	if r.h.Health != nil {
		r.h.Health.RegisterRoutes(api)
	}

	var authLimiter gin.HandlerFunc
	if r.config.AuthRateLimit > 0 {
		authLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.AuthRateLimit,
			Burst: r.config.AuthRateBurst,
		}).RateLimit()
	}
	r.h.Auth.RegisterRoutes(api, authLimiter)

	r.h.User.RegisterRoutes(api, r.auth)
	r.h.Appointment.RegisterRoutes(api, r.auth)
	r.h.Report.RegisterRoutes(api, r.auth)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
