package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/PratikDhanave/paywall-attribution-service/internal/auth"
	"github.com/PratikDhanave/paywall-attribution-service/internal/config"
	"github.com/PratikDhanave/paywall-attribution-service/internal/handlers"
	"github.com/PratikDhanave/paywall-attribution-service/internal/launch"
	"github.com/PratikDhanave/paywall-attribution-service/internal/metrics"
)

// Journal is the optional commerce event journal.
type Journal interface {
	handlers.EventCounter
	Ping(ctx context.Context) error
}

// Deps are the services behind the router. Journal and Log may be nil.
type Deps struct {
	Events  handlers.EventSink
	App     handlers.AppDeps
	Journal Journal
	Log     *zap.Logger
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /metrics
// Authenticated: paywall feed, placements, launch/gate/subscription state,
// attribution triggers, navigation, journal counts
func NewRouter(cfg config.Config, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: launch reached Ready and the journal (if any) is reachable.
	r.GET("/ready", func(c *gin.Context) {
		if v := d.App.Launch.Current(); v.Phase != launch.Ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "phase": v.Phase, "error": v.Detail})
			return
		}
		if d.Journal != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()

			if err := d.Journal.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	// Auth group enforces client context via X-API-Key.
	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(cfg.APIKeys))

	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	handlers.RegisterEventRoutes(authGroup, d.Events, d.App.Placements, log.Named("http"))
	handlers.RegisterAppRoutes(authGroup, d.App)
	if d.Journal != nil {
		handlers.RegisterCountRoutes(authGroup, d.Journal)
	}

	return r
}
