package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/paywall-attribution-service/internal/auth"
	"github.com/PratikDhanave/paywall-attribution-service/internal/entitlement"
	"github.com/PratikDhanave/paywall-attribution-service/internal/models"
	"github.com/PratikDhanave/paywall-attribution-service/internal/paywall"
)

// EventSink accepts paywall service notifications.
type EventSink interface {
	Publish(ctx context.Context, ev paywall.Event) error
}

// Placements registers paywall placements.
type Placements interface {
	RegisterPlacement(ctx context.Context, req paywall.PlacementRequest) (string, error)
}

// toPaywallEvent converts the wire payload into a typed notification.
func toPaywallEvent(req models.PaywallEventRequest) (paywall.Event, error) {
	switch req.Type {
	case "paywall_present":
		return paywall.Presented{ActivationID: req.ActivationID, PaywallName: req.PaywallName}, nil

	case "paywall_dismiss":
		if req.Result == nil || req.Result.Type == "" {
			return nil, errors.New("result.type required")
		}
		return paywall.Dismissed{
			ActivationID: req.ActivationID,
			PaywallName:  req.PaywallName,
			Result: paywall.DismissResult{
				Type:      paywall.ResultType(req.Result.Type),
				ProductID: req.Result.ProductID,
				Amount:    req.Result.Price,
				Currency:  req.Result.Currency,
				Trial:     req.Result.Trial,
			},
		}, nil

	case "paywall_skip":
		return paywall.Skipped{ActivationID: req.ActivationID, Reason: req.Reason}, nil

	case "paywall_error":
		return paywall.Failed{ActivationID: req.ActivationID, Err: req.Error}, nil

	case "paywall_will_open_url":
		if req.URL == "" {
			return nil, errors.New("url required")
		}
		return paywall.WillOpenURL{ActivationID: req.ActivationID, URL: req.URL}, nil

	case "paywall_will_open_deep_link":
		return paywall.WillOpenDeepLink{URL: req.URL}, nil

	case "will_redeem_link":
		return paywall.WillRedeemLink{}, nil

	case "did_redeem_link":
		if req.Redemption == nil || req.Redemption.Status == "" {
			return nil, errors.New("redemption.status required")
		}
		return paywall.DidRedeemLink{Result: paywall.RedemptionResult{
			Status: req.Redemption.Status,
			Reason: req.Redemption.Reason,
		}}, nil

	case "subscription_status_change":
		if req.Subscription == nil {
			return nil, errors.New("subscription required")
		}
		return paywall.SubscriptionStatusChanged{Status: entitlement.Status{
			Kind:         entitlement.ParseKind(req.Subscription.Status),
			Entitlements: req.Subscription.Entitlements,
		}}, nil

	case "":
		return nil, errors.New("type required")
	default:
		return nil, fmt.Errorf("unknown event type %q", req.Type)
	}
}

// RegisterEventRoutes registers the paywall service feed and placement
// registration.
//
// POST /paywall/events
// - Accepted once queued; the controller handles notifications in order
//
// POST /placements
// - Fire-and-forget: a failed registration is reported but not retried
func RegisterEventRoutes(r gin.IRoutes, sink EventSink, placements Placements, log *zap.Logger) {
	r.POST("/paywall/events", func(c *gin.Context) {
		var req models.PaywallEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		ev, err := toPaywallEvent(req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := sink.Publish(c.Request.Context(), ev); err != nil {
			log.Warn("paywall event not queued",
				zap.String("client_id", auth.ClientID(c)),
				zap.String("type", req.Type),
				zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event not queued"})
			return
		}
		log.Debug("paywall event queued",
			zap.String("client_id", auth.ClientID(c)),
			zap.String("type", req.Type))
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	})

	r.POST("/placements", func(c *gin.Context) {
		var req models.PlacementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		id, err := placements.RegisterPlacement(c.Request.Context(), paywall.PlacementRequest{Placement: req.Placement})
		if errors.Is(err, paywall.ErrPlacementRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "placement required"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "placement registration failed", "activation_id": id})
			return
		}
		log.Info("placement registered",
			zap.String("client_id", auth.ClientID(c)),
			zap.String("placement", req.Placement),
			zap.String("activation_id", id))
		c.JSON(http.StatusCreated, models.PlacementResponse{ActivationID: id, ClientID: auth.ClientID(c)})
	})
}
