package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mymove-wizard/internal/sessions"
	"mymove-wizard/internal/shared/config"
	"mymove-wizard/internal/shared/metrics"
	"mymove-wizard/internal/shared/server/middleware"
	"mymove-wizard/internal/shared/server/respond"
)

// RouterDeps carries the handlers and checks the router serves.
type RouterDeps struct {
	Config        config.Config
	WizardHandler *sessions.Handler
	// Ready reports whether the snapshot store is reachable. Nil means
	// always ready.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			GroupFor: rateLimitGroup,
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT": {Rate: deps.Config.RateLimitRPS, Burst: deps.Config.RateLimitBurst},
				"READ":    {Rate: deps.Config.RateLimitRPS * 3, Burst: deps.Config.RateLimitBurst * 3},
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.OK(c, gin.H{"ok": true})
	})
	api.GET("/ready", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(c.Request.Context()); err != nil {
				respond.Error(c, http.StatusServiceUnavailable, "not_ready", err.Error(), nil)
				return
			}
		}
		respond.OK(c, gin.H{"ok": true})
	})

	if deps.WizardHandler != nil {
		deps.WizardHandler.RegisterRoutes(api.Group("/wizard"))
	}

	return r
}

// rateLimitGroup lets state reads poll faster than mutations; the event
// stream and probes are not limited.
func rateLimitGroup(c *gin.Context) string {
	path := c.FullPath()
	switch {
	case strings.HasSuffix(path, "/events"), path == "/metrics", strings.HasPrefix(path, "/api/v1/health"), path == "/api/v1/ready":
		return "UNLIMITED"
	case c.Request.Method == http.MethodGet:
		return "READ"
	default:
		return "DEFAULT"
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
