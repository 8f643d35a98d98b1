package paywall

import (
	"strings"

	"github.com/PratikDhanave/paywall-attribution-service/internal/entitlement"
)

// Event is a notification from the paywall service. The concrete types below
// are the only implementations.
type Event interface {
	event()
}

// ResultType is how a paywall was closed.
type ResultType string

const (
	ResultPurchased ResultType = "purchased"
	ResultRestored  ResultType = "restored"
	ResultDeclined  ResultType = "declined"
	ResultDismissed ResultType = "dismissed"
)

// Confirms reports whether the result proves a completed purchase.
func (r ResultType) Confirms() bool {
	return r == ResultPurchased || r == ResultRestored
}

// DismissResult describes how a paywall closed. Price and ProductID are
// filled when the service reports the purchased product.
type DismissResult struct {
	Type      ResultType
	ProductID string
	Amount    *float64
	Currency  string
	Trial     bool
}

// RedemptionSuccess is the status of a successful link redemption.
const RedemptionSuccess = "SUCCESS"

// RedemptionResult is produced when a web checkout link comes back into the
// app.
type RedemptionResult struct {
	Status string
	Reason string
}

// Success reports whether the redemption confirms a purchase.
func (r RedemptionResult) Success() bool {
	return strings.EqualFold(r.Status, RedemptionSuccess)
}

type (
	// Presented fires when a paywall is on screen.
	Presented struct {
		ActivationID string
		PaywallName  string
	}

	// Dismissed fires when a paywall closes.
	Dismissed struct {
		ActivationID string
		PaywallName  string
		Result       DismissResult
	}

	// Skipped fires when a placement resolves to no paywall (holdout, no
	// matching rule, already subscribed).
	Skipped struct {
		ActivationID string
		Reason       string
	}

	// Failed fires when the paywall could not be shown.
	Failed struct {
		ActivationID string
		Err          string
	}

	// WillOpenURL fires before the paywall hands a URL to the browser.
	WillOpenURL struct {
		ActivationID string
		URL          string
	}

	// WillOpenDeepLink fires before the paywall opens an in-app link.
	WillOpenDeepLink struct {
		URL string
	}

	// WillRedeemLink fires when a redemption starts.
	WillRedeemLink struct{}

	// DidRedeemLink fires when a redemption finishes.
	DidRedeemLink struct {
		Result RedemptionResult
	}

	// SubscriptionStatusChanged carries an upstream status push.
	SubscriptionStatusChanged struct {
		Status entitlement.Status
	}
)

func (Presented) event()                 {}
func (Dismissed) event()                 {}
func (Skipped) event()                   {}
func (Failed) event()                    {}
func (WillOpenURL) event()               {}
func (WillOpenDeepLink) event()          {}
func (WillRedeemLink) event()            {}
func (DidRedeemLink) event()             {}
func (SubscriptionStatusChanged) event() {}
