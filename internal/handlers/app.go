package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/paywall-attribution-service/internal/auth"
	"github.com/PratikDhanave/paywall-attribution-service/internal/entitlement"
	"github.com/PratikDhanave/paywall-attribution-service/internal/gate"
	"github.com/PratikDhanave/paywall-attribution-service/internal/launch"
	"github.com/PratikDhanave/paywall-attribution-service/internal/models"
	"github.com/PratikDhanave/paywall-attribution-service/internal/navigation"
)

// LaunchState exposes the current launch view.
type LaunchState interface {
	Current() launch.View
}

// Attribution is the part of the attribution client the UI may trigger.
type Attribution interface {
	TrackRegistration(ctx context.Context)
	Flush(ctx context.Context)
}

// Navigation is the navigation surface.
type Navigation interface {
	navigation.Navigator
	Current() navigation.Destination
	History() []navigation.Destination
}

// AppDeps are the collaborators behind the UI-facing routes.
type AppDeps struct {
	Launch       LaunchState
	Subscription entitlement.Reader
	Placements   Placements
	Attribution  Attribution
	Navigation   Navigation
}

// RegisterAppRoutes registers the routes a client polls to render itself.
//
// GET  /launch                  current launch phase
// GET  /subscription            subscription snapshot
// GET  /entitlements/:id        live entitlement lookup (false on failure)
// GET  /gate?placement=&fallback= feature gate decision
// POST /gate/unlock             upsell action
// POST /attribution/registration, /attribution/flush
// GET  /navigation, POST /navigation/menu
func RegisterAppRoutes(r gin.IRoutes, d AppDeps) {
	r.GET("/launch", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Launch.Current())
	})

	r.GET("/subscription", func(c *gin.Context) {
		snap := d.Subscription.Snapshot()
		ents := snap.Status.Entitlements
		if ents == nil {
			ents = []string{}
		}
		c.JSON(http.StatusOK, models.SubscriptionResponse{
			Version:      snap.Version,
			Status:       string(snap.Status.Kind),
			Entitlements: ents,
			IsSubscribed: snap.IsSubscribed(),
			IsLoading:    snap.IsLoading(),
		})
	})

	r.GET("/entitlements/:id", func(c *gin.Context) {
		id := c.Param("id")
		c.JSON(http.StatusOK, gin.H{
			"entitlement": id,
			"active":      d.Subscription.CheckEntitlement(c.Request.Context(), id),
		})
	})

	r.GET("/gate", func(c *gin.Context) {
		g, ok := gateFor(c, d.Placements)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, g.Decide(d.Subscription.Snapshot()))
	})

	r.POST("/gate/unlock", func(c *gin.Context) {
		var req models.PlacementRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
				return
			}
		}
		id, err := gate.New(d.Placements, gate.WithPlacement(req.Placement)).Unlock(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "placement registration failed", "activation_id": id})
			return
		}
		c.JSON(http.StatusCreated, models.PlacementResponse{ActivationID: id, ClientID: auth.ClientID(c)})
	})

	r.POST("/attribution/registration", func(c *gin.Context) {
		d.Attribution.TrackRegistration(c.Request.Context())
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	})

	r.POST("/attribution/flush", func(c *gin.Context) {
		d.Attribution.Flush(c.Request.Context())
		c.JSON(http.StatusAccepted, gin.H{"status": "flushed"})
	})

	r.GET("/navigation", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"current": d.Navigation.Current(),
			"history": d.Navigation.History(),
		})
	})

	r.POST("/navigation/menu", func(c *gin.Context) {
		d.Navigation.Navigate(c.Request.Context(), navigation.Menu)
		c.JSON(http.StatusOK, gin.H{"current": d.Navigation.Current()})
	})
}

func gateFor(c *gin.Context, p Placements) (*gate.Gate, bool) {
	opts := []gate.Option{gate.WithPlacement(c.Query("placement"))}
	if raw := c.Query("fallback"); raw != "" {
		fb, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fallback must be a boolean"})
			return nil, false
		}
		if fb {
			opts = append(opts, gate.WithFallback())
		}
	}
	return gate.New(p, opts...), true
}
