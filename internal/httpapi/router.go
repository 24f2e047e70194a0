// Package httpapi builds the HTTP surface every service exposes: health,
// Prometheus metrics and, for the connection servers, the websocket endpoint.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	healthPath  = "/health"
	metricsPath = "/metrics"

	healthCheckTimeout = 3 * time.Second
)

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies holds everything the router serves
type Dependencies struct {
	Logger  *slog.Logger
	Service string
	// Checks are run on every health request, keyed by dependency name
	Checks map[string]HealthCheck
	// Websocket, when set, is mounted at / and /ws
	Websocket http.Handler
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	r.GET(healthPath, healthHandler(deps))
	r.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	if deps.Websocket != nil {
		ws := gin.WrapH(deps.Websocket)
		r.GET("/", ws)
		r.GET("/ws", ws)
	}

	return r
}

func healthHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		checks := make(gin.H, len(deps.Checks))
		for name, check := range deps.Checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				deps.Logger.Warn("Health check failed",
					slog.String("dependency", name),
					slog.Any("error", err),
				)
				continue
			}
			checks[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":  state,
			"service": deps.Service,
			"checks":  checks,
		})
	}
}
