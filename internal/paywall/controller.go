package paywall

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PratikDhanave/paywall-attribution-service/internal/attribution"
	"github.com/PratikDhanave/paywall-attribution-service/internal/entitlement"
	"github.com/PratikDhanave/paywall-attribution-service/internal/metrics"
	"github.com/PratikDhanave/paywall-attribution-service/internal/navigation"
)

// State is the lifecycle position of one placement activation.
type State string

const (
	StateIdle       State = "idle"
	StatePresenting State = "presenting"
	StatePurchased  State = "purchased"
	StateRestored   State = "restored"
	StateDismissed  State = "dismissed"
	StateSkipped    State = "skipped"
	StateErrored    State = "errored"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	switch s {
	case StatePurchased, StateRestored, StateDismissed, StateSkipped, StateErrored:
		return true
	}
	return false
}

// DefaultCheckoutDomains are the hosts treated as external checkout.
var DefaultCheckoutDomains = []string{"checkout.stripe.com"}

// ErrPlacementRequired is returned for an empty placement id.
var ErrPlacementRequired = errors.New("placement required")

// PlacementRequest asks the paywall service to evaluate a placement.
type PlacementRequest struct {
	Placement string
}

// Service is the paywall service's presentation entry point.
type Service interface {
	RegisterPlacement(ctx context.Context, req PlacementRequest, activationID string) error
}

// Emitter relays commerce events.
type Emitter interface {
	Emit(ctx context.Context, ev attribution.Event)
}

// Activation is one run of the placement state machine.
type Activation struct {
	ID          string
	Placement   string
	PaywallName string
	State       State
	CreatedAt   time.Time

	viewed      bool
	checkout    bool
	confirmed   bool
	confirmedAt time.Time
}

// Config tunes the controller.
type Config struct {
	CheckoutDomains []string
	EventBuffer     int
	// MaxActivations bounds how many finished activations are remembered.
	MaxActivations int
	// RedeemWindow is how long a confirmed purchase absorbs a redemption that
	// names no checkout.
	RedeemWindow time.Duration
}

// DefaultRedeemWindow is used when Config.RedeemWindow is unset.
const DefaultRedeemWindow = 10 * time.Minute

// Controller runs the paywall state machines. Service notifications arrive
// through Publish and are handled one at a time by Run.
type Controller struct {
	svc    Service
	attr   Emitter
	nav    navigation.Navigator
	status entitlement.Publisher
	log    *zap.Logger

	checkout     []string
	maxActs      int
	redeemWindow time.Duration
	events       chan Event
	now          func() time.Time

	mu          sync.Mutex
	activations map[string]*Activation
	order       []string
}

// NewController wires the controller to its collaborators. status may be nil
// when status pushes are handled elsewhere.
func NewController(svc Service, attr Emitter, nav navigation.Navigator, status entitlement.Publisher, cfg Config, log *zap.Logger) *Controller {
	if len(cfg.CheckoutDomains) == 0 {
		cfg.CheckoutDomains = DefaultCheckoutDomains
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.MaxActivations <= 0 {
		cfg.MaxActivations = 32
	}
	if cfg.RedeemWindow <= 0 {
		cfg.RedeemWindow = DefaultRedeemWindow
	}
	domains := make([]string, 0, len(cfg.CheckoutDomains))
	for _, d := range cfg.CheckoutDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	return &Controller{
		svc:         svc,
		attr:        attr,
		nav:         nav,
		status:      status,
		log:         log.Named("paywall"),
		checkout:     domains,
		maxActs:      cfg.MaxActivations,
		redeemWindow: cfg.RedeemWindow,
		events:       make(chan Event, cfg.EventBuffer),
		now:          time.Now,
		activations:  make(map[string]*Activation),
	}
}

// RegisterPlacement starts a new activation and asks the service to present
// it. Failures are not retried.
func (c *Controller) RegisterPlacement(ctx context.Context, req PlacementRequest) (string, error) {
	req.Placement = strings.TrimSpace(req.Placement)
	if req.Placement == "" {
		return "", ErrPlacementRequired
	}

	act := &Activation{
		ID:        uuid.NewString(),
		Placement: req.Placement,
		State:     StateIdle,
		CreatedAt: c.now().UTC(),
	}
	c.mu.Lock()
	c.addLocked(act)
	act.State = StatePresenting
	c.mu.Unlock()

	c.log.Info("registering placement",
		zap.String("placement", req.Placement),
		zap.String("activation_id", act.ID))

	if err := c.svc.RegisterPlacement(ctx, req, act.ID); err != nil {
		c.mu.Lock()
		c.finishLocked(act, StateErrored)
		c.mu.Unlock()
		c.log.Error("placement registration failed",
			zap.String("placement", req.Placement),
			zap.String("activation_id", act.ID),
			zap.Error(err))
		return act.ID, fmt.Errorf("register placement %q: %w", req.Placement, err)
	}
	return act.ID, nil
}

// Publish queues a service notification for Run.
func (c *Controller) Publish(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run handles notifications until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// Activation returns a copy of the activation with id.
func (c *Controller) Activation(id string) (Activation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.activations[id]
	if !ok {
		return Activation{}, false
	}
	return *a, true
}

// effects collects what a transition asks for; they run after the lock is
// released.
type effects struct {
	events  []attribution.Event
	success bool
}

func (c *Controller) handle(ctx context.Context, ev Event) {
	var fx effects

	c.mu.Lock()
	switch e := ev.(type) {
	case Presented:
		c.onPresented(e, &fx)
	case Dismissed:
		c.onDismissed(e, &fx)
	case Skipped:
		act := c.lookupLocked(e.ActivationID)
		c.log.Info("paywall skipped", zap.String("activation_id", act.ID), zap.String("reason", e.Reason))
		c.finishLocked(act, StateSkipped)
	case Failed:
		act := c.lookupLocked(e.ActivationID)
		c.log.Error("paywall error", zap.String("activation_id", act.ID), zap.String("error", e.Err))
		c.finishLocked(act, StateErrored)
	case WillOpenURL:
		c.log.Info("paywall opening url", zap.String("url", e.URL))
		if c.isCheckout(e.URL) {
			act := c.lookupLocked(e.ActivationID)
			act.checkout = true
			fx.events = append(fx.events, attribution.CheckoutInitiated(act.ID, nil))
		}
	case WillOpenDeepLink:
		c.log.Info("paywall opening deep link", zap.String("url", e.URL))
	case WillRedeemLink:
		c.log.Info("link redemption starting")
	case DidRedeemLink:
		c.onRedeemed(e, &fx)
	case SubscriptionStatusChanged:
		c.mu.Unlock()
		c.onStatus(e)
		return
	default:
		c.log.Warn("unhandled paywall event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
	c.mu.Unlock()

	for _, e := range fx.events {
		c.attr.Emit(ctx, e)
	}
	if fx.success && c.nav != nil {
		c.nav.Navigate(ctx, navigation.Success)
	}
}

func (c *Controller) onPresented(e Presented, fx *effects) {
	act := c.lookupLocked(e.ActivationID)
	if act.State.Terminal() {
		c.log.Warn("present after terminal state",
			zap.String("activation_id", act.ID), zap.String("state", string(act.State)))
		return
	}
	act.State = StatePresenting
	if e.PaywallName != "" {
		act.PaywallName = e.PaywallName
	}
	if act.viewed {
		return
	}
	act.viewed = true
	c.log.Info("paywall presented", zap.String("activation_id", act.ID), zap.String("paywall", act.PaywallName))
	fx.events = append(fx.events, attribution.PaywallView(act.ID, act.PaywallName))
}

func (c *Controller) onDismissed(e Dismissed, fx *effects) {
	act := c.lookupLocked(e.ActivationID)
	if act.State.Terminal() {
		c.log.Warn("dismiss after terminal state",
			zap.String("activation_id", act.ID), zap.String("state", string(act.State)))
		return
	}
	c.log.Info("paywall dismissed", zap.String("activation_id", act.ID), zap.String("result", string(e.Result.Type)))

	if !e.Result.Type.Confirms() {
		c.finishLocked(act, StateDismissed)
		return
	}

	if e.Result.Type == ResultRestored {
		c.finishLocked(act, StateRestored)
	} else {
		c.finishLocked(act, StatePurchased)
	}
	if act.confirmed {
		c.log.Info("purchase already confirmed", zap.String("activation_id", act.ID))
		return
	}
	c.confirmLocked(act)

	var price *attribution.Price
	if e.Result.Amount != nil {
		price = &attribution.Price{Amount: *e.Result.Amount, Currency: e.Result.Currency}
	}
	fx.events = append(fx.events, attribution.Purchase(act.ID, e.Result.ProductID, price))
	if e.Result.Trial {
		fx.events = append(fx.events, attribution.TrialStarted(act.ID, price))
	}
	fx.success = true
}

func (c *Controller) onRedeemed(e DidRedeemLink, fx *effects) {
	if !e.Result.Success() {
		c.log.Error("link redemption failed",
			zap.String("status", e.Result.Status), zap.String("reason", e.Result.Reason))
		return
	}

	act := c.redemptionTargetLocked()
	if act == nil {
		act = &Activation{ID: uuid.NewString(), State: StatePurchased, CreatedAt: c.now().UTC()}
		c.addLocked(act)
		metrics.PaywallOutcomes.WithLabelValues(string(StatePurchased)).Inc()
	}
	if act.confirmed {
		c.log.Info("purchase already confirmed", zap.String("activation_id", act.ID))
		return
	}
	c.confirmLocked(act)
	c.log.Info("link redemption succeeded", zap.String("activation_id", act.ID))

	// The redeemed link carries no price.
	fx.events = append(fx.events, attribution.Purchase(act.ID, "", nil))
	fx.success = true
}

func (c *Controller) onStatus(e SubscriptionStatusChanged) {
	if e.Status.Kind == entitlement.Active {
		c.log.Info("user is now active")
	}
	if c.status != nil {
		c.status(e.Status)
	}
}

func (c *Controller) isCheckout(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range c.checkout {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// lookupLocked resolves an activation id. An empty id means the latest
// activation; an id the controller never issued is adopted.
func (c *Controller) lookupLocked(id string) *Activation {
	if id == "" {
		if act := c.latestLocked(); act != nil {
			return act
		}
	}
	if act, ok := c.activations[id]; ok {
		return act
	}
	if id == "" {
		id = uuid.NewString()
	}
	act := &Activation{ID: id, State: StatePresenting, CreatedAt: c.now().UTC()}
	c.addLocked(act)
	return act
}

// redemptionTargetLocked picks the activation a successful redemption
// confirms, newest first: one that opened web checkout, then one confirmed
// within the redeem window, then one still open. Nil means none applies.
func (c *Controller) redemptionTargetLocked() *Activation {
	if act := c.findLocked(func(a *Activation) bool { return a.checkout }); act != nil {
		return act
	}
	cutoff := c.now().Add(-c.redeemWindow)
	if act := c.findLocked(func(a *Activation) bool {
		return a.confirmed && a.confirmedAt.After(cutoff)
	}); act != nil {
		return act
	}
	return c.findLocked(func(a *Activation) bool { return !a.State.Terminal() })
}

func (c *Controller) findLocked(match func(*Activation) bool) *Activation {
	for i := len(c.order) - 1; i >= 0; i-- {
		if act := c.activations[c.order[i]]; match(act) {
			return act
		}
	}
	return nil
}

func (c *Controller) confirmLocked(act *Activation) {
	act.confirmed = true
	act.confirmedAt = c.now()
}

func (c *Controller) latestLocked() *Activation {
	if len(c.order) == 0 {
		return nil
	}
	return c.activations[c.order[len(c.order)-1]]
}

func (c *Controller) addLocked(act *Activation) {
	c.activations[act.ID] = act
	c.order = append(c.order, act.ID)

	for len(c.order) > c.maxActs {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.activations, oldest)
	}
}

func (c *Controller) finishLocked(act *Activation, st State) {
	if act.State.Terminal() {
		return
	}
	act.State = st
	metrics.PaywallOutcomes.WithLabelValues(string(st)).Inc()
}
