package attribution

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies a commerce event relayed to the attribution backend.
type Kind string

const (
	KindPaywallView           Kind = "paywall_view"
	KindCheckoutInitiated     Kind = "checkout_initiated"
	KindPurchase              Kind = "purchase"
	KindTrialStarted          Kind = "trial_started"
	KindRegistrationCompleted Kind = "registration_completed"
)

// DefaultCurrency is used when a price arrives without a currency.
const DefaultCurrency = "USD"

// Price is a known monetary amount. A nil *Price means the amount is unknown.
type Price struct {
	Amount   float64
	Currency string
}

// Event is one commerce occurrence. ID is the idempotency key: events tied to
// a paywall activation use a key derived from it, so the same occurrence
// recorded twice collapses to one row in the journal.
type Event struct {
	ID           string
	Kind         Kind
	ActivationID string
	PaywallName  string
	ProductID    string
	Price        *Price
	At           time.Time
}

func newEvent(kind Kind, activationID string) Event {
	id := uuid.NewString()
	if activationID != "" && (kind == KindPaywallView || kind == KindPurchase) {
		id = string(kind) + ":" + activationID
	}
	return Event{
		ID:           id,
		Kind:         kind,
		ActivationID: activationID,
		At:           time.Now().UTC(),
	}
}

// PaywallView records that a paywall named name was shown.
func PaywallView(activationID, name string) Event {
	ev := newEvent(KindPaywallView, activationID)
	ev.PaywallName = name
	return ev
}

// CheckoutInitiated records that the user left for an external checkout.
func CheckoutInitiated(activationID string, price *Price) Event {
	ev := newEvent(KindCheckoutInitiated, activationID)
	ev.Price = price
	return ev
}

// Purchase records a confirmed purchase. price is nil when the confirmation
// path does not carry one (redeemed web checkout).
func Purchase(activationID, productID string, price *Price) Event {
	ev := newEvent(KindPurchase, activationID)
	ev.ProductID = productID
	ev.Price = price
	return ev
}

// TrialStarted records the start of a free trial.
func TrialStarted(activationID string, price *Price) Event {
	ev := newEvent(KindTrialStarted, activationID)
	ev.Price = price
	return ev
}

// RegistrationCompleted records the end of onboarding.
func RegistrationCompleted() Event {
	return newEvent(KindRegistrationCompleted, "")
}

func (p *Price) amount() float64 {
	if p == nil {
		return 0
	}
	return p.Amount
}

func (p *Price) currency() string {
	if p == nil || p.Currency == "" {
		return DefaultCurrency
	}
	return p.Currency
}
