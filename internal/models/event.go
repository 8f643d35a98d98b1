package models

// PaywallEventRequest is the POST /paywall/events payload: one notification
// from the paywall service.
//
// type is one of: paywall_present, paywall_dismiss, paywall_skip,
// paywall_error, paywall_will_open_url, paywall_will_open_deep_link,
// will_redeem_link, did_redeem_link, subscription_status_change.
type PaywallEventRequest struct {
	Type         string              `json:"type"`
	ActivationID string              `json:"activation_id,omitempty"`
	PaywallName  string              `json:"paywall_name,omitempty"`
	Result       *DismissResultBody  `json:"result,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	Error        string              `json:"error,omitempty"`
	URL          string              `json:"url,omitempty"`
	Redemption   *RedemptionBody     `json:"redemption,omitempty"`
	Subscription *SubscriptionStatus `json:"subscription,omitempty"`
}

// DismissResultBody describes how a paywall closed.
type DismissResultBody struct {
	Type      string   `json:"type"`
	ProductID string   `json:"product_id,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	Currency  string   `json:"currency,omitempty"`
	Trial     bool     `json:"trial,omitempty"`
}

// RedemptionBody is the result of redeeming a web checkout link.
type RedemptionBody struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// SubscriptionStatus is the wire form of the subscription status.
type SubscriptionStatus struct {
	Status       string   `json:"status"`
	Entitlements []string `json:"entitlements,omitempty"`
}

// PlacementRequest is the POST /placements payload.
type PlacementRequest struct {
	Placement string `json:"placement"`
}

// PlacementResponse is returned when a placement was registered.
type PlacementResponse struct {
	ActivationID string `json:"activation_id"`
	ClientID     string `json:"client_id"`
}

// SubscriptionResponse is returned by GET /subscription.
type SubscriptionResponse struct {
	Version      uint64   `json:"version"`
	Status       string   `json:"status"`
	Entitlements []string `json:"entitlements"`
	IsSubscribed bool     `json:"is_subscribed"`
	IsLoading    bool     `json:"is_loading"`
}

// EventCountResponse is returned by GET /commerce-events/count.
type EventCountResponse struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}
