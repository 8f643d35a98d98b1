package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/paywall-attribution-service/internal/models"
)

// EventCounter counts journaled commerce events.
type EventCounter interface {
	CountEvents(ctx context.Context, kind string, from, to time.Time) (int64, error)
}

// RegisterCountRoutes registers the journal query endpoint.
//
// GET /commerce-events/count?kind=...&from=...&to=...
// - Returns count for the window [from,to)
func RegisterCountRoutes(r gin.IRoutes, st EventCounter) {
	r.GET("/commerce-events/count", func(c *gin.Context) {
		kind := c.Query("kind")
		fromStr := c.Query("from")
		toStr := c.Query("to")

		// Required query params per contract.
		if kind == "" || fromStr == "" || toStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind, from, to are required"})
			return
		}

		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}

		from = from.UTC()
		to = to.UTC()

		// Validate window to avoid confusing results.
		if !from.Before(to) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be < to"})
			return
		}

		count, err := st.CountEvents(c.Request.Context(), kind, from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		c.JSON(http.StatusOK, models.EventCountResponse{Kind: kind, Count: count})
	})
}
