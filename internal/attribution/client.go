package attribution

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/paywall-attribution-service/internal/consent"
	"github.com/PratikDhanave/paywall-attribution-service/internal/metrics"
)

// Backend event names.
const (
	EventViewContent          = "ViewContent"
	EventInitiatedCheckout    = "InitiatedCheckout"
	EventStartTrial           = "StartTrial"
	EventCompleteRegistration = "CompleteRegistration"
)

// SDK is the attribution backend surface the client drives. LogEvent and
// LogPurchase only buffer; Flush delivers.
type SDK interface {
	SetAutoLogAppEventsEnabled(enabled bool)
	SetAdvertiserIDCollectionEnabled(enabled bool)
	SetAdvertiserTrackingEnabled(enabled bool)
	FetchDeferredAppLink(ctx context.Context) (string, error)
	LogEvent(ctx context.Context, name string, valueToSum *float64, params map[string]string) error
	LogPurchase(ctx context.Context, amount float64, currency string, params map[string]string) error
	Flush(ctx context.Context) error
}

// Journal keeps a local record of relayed events.
type Journal interface {
	RecordEvent(ctx context.Context, ev Event) (bool, error)
}

// Option configures a Client.
type Option func(*Client)

// WithJournal records every emitted event in j as well.
func WithJournal(j Journal) Option {
	return func(c *Client) { c.journal = j }
}

// Client wraps the attribution SDK. Delivery is best-effort: nothing it does
// returns an error to the caller.
type Client struct {
	sdk     SDK
	journal Journal
	log     *zap.Logger

	once    sync.Once
	mu      sync.RWMutex
	ready   bool
	consent consent.Status

	// writes counts journal writes in flight; idle is signalled when it
	// drops to zero.
	jmu    sync.Mutex
	idle   *sync.Cond
	writes int
}

// NewClient returns a client for sdk. Init must run before events are accepted.
func NewClient(sdk SDK, log *zap.Logger, opts ...Option) *Client {
	c := &Client{sdk: sdk, log: log.Named("attribution")}
	c.idle = sync.NewCond(&c.jmu)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Init configures the SDK once per process. Advertiser identifiers are only
// enabled when consent was granted; event logging is enabled regardless.
func (c *Client) Init(st consent.Status) {
	c.once.Do(func() {
		allow := st.AllowsIdentifiers()
		c.sdk.SetAutoLogAppEventsEnabled(true)
		c.sdk.SetAdvertiserIDCollectionEnabled(allow)
		c.sdk.SetAdvertiserTrackingEnabled(allow)

		c.mu.Lock()
		c.ready = true
		c.consent = st
		c.mu.Unlock()

		c.log.Info("sdk initialized",
			zap.String("consent", string(st)),
			zap.Bool("advertiser_tracking", allow))
	})
}

// Initialized reports whether Init has run.
func (c *Client) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// FetchDeferredLink asks the backend for the ad link that produced this
// install. Any failure is an empty result.
func (c *Client) FetchDeferredLink(ctx context.Context) string {
	c.log.Debug("checking for deferred deep link")
	url, err := c.sdk.FetchDeferredAppLink(ctx)
	if err != nil {
		metrics.DeferredLinks.WithLabelValues("empty").Inc()
		c.log.Info("no deferred deep link", zap.Error(err))
		return ""
	}
	if url == "" {
		metrics.DeferredLinks.WithLabelValues("empty").Inc()
		c.log.Info("no deferred deep link")
		return ""
	}
	metrics.DeferredLinks.WithLabelValues("found").Inc()
	c.log.Info("deferred deep link found", zap.String("url", url))
	return url
}

// Emit hands ev to the SDK buffer. Events emitted before Init are dropped.
func (c *Client) Emit(ctx context.Context, ev Event) {
	if !c.Initialized() {
		c.log.Warn("event dropped before sdk init", zap.String("kind", string(ev.Kind)))
		return
	}

	var err error
	switch ev.Kind {
	case KindPaywallView:
		name := ev.PaywallName
		if name == "" {
			name = "paywall"
		}
		err = c.sdk.LogEvent(ctx, EventViewContent, nil, map[string]string{
			"content_id":   name,
			"content_type": "paywall",
		})
	case KindCheckoutInitiated:
		v := ev.Price.amount()
		err = c.sdk.LogEvent(ctx, EventInitiatedCheckout, &v, map[string]string{
			"currency":     ev.Price.currency(),
			"content_type": "subscription",
			"num_items":    "1",
		})
	case KindPurchase:
		product := ev.ProductID
		if product == "" {
			product = "subscription"
		}
		params := map[string]string{
			"content_id":   product,
			"content_type": "subscription",
			"num_items":    "1",
			"price_known":  strconv.FormatBool(ev.Price != nil),
		}
		err = c.sdk.LogPurchase(ctx, ev.Price.amount(), ev.Price.currency(), params)
	case KindTrialStarted:
		v := ev.Price.amount()
		err = c.sdk.LogEvent(ctx, EventStartTrial, &v, map[string]string{
			"currency":     ev.Price.currency(),
			"content_type": "subscription",
		})
	case KindRegistrationCompleted:
		err = c.sdk.LogEvent(ctx, EventCompleteRegistration, nil, nil)
	default:
		c.log.Warn("unknown event kind", zap.String("kind", string(ev.Kind)))
		return
	}

	if err != nil {
		metrics.EventsFailed.WithLabelValues(string(ev.Kind)).Inc()
		c.log.Warn("event not logged", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}
	metrics.EventsForwarded.WithLabelValues(string(ev.Kind)).Inc()
	c.log.Info("tracked", zap.String("kind", string(ev.Kind)), zap.String("event_id", ev.ID))

	c.record(ev)
}

func (c *Client) record(ev Event) {
	if c.journal == nil {
		return
	}
	c.jmu.Lock()
	c.writes++
	c.jmu.Unlock()

	go func() {
		defer c.writeDone()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.journal.RecordEvent(ctx, ev); err != nil {
			c.log.Warn("journal write failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}()
}

func (c *Client) writeDone() {
	c.jmu.Lock()
	defer c.jmu.Unlock()
	c.writes--
	if c.writes == 0 {
		c.idle.Broadcast()
	}
}

func (c *Client) waitWrites() {
	c.jmu.Lock()
	defer c.jmu.Unlock()
	for c.writes > 0 {
		c.idle.Wait()
	}
}

// Flush waits for journal writes in flight, then forces delivery of
// buffered events.
func (c *Client) Flush(ctx context.Context) {
	c.waitWrites()
	if !c.Initialized() {
		return
	}
	if err := c.sdk.Flush(ctx); err != nil {
		c.log.Warn("flush failed", zap.Error(err))
		return
	}
	c.log.Debug("events flushed")
}

// TrackPaywallView emits a PaywallView event.
func (c *Client) TrackPaywallView(ctx context.Context, activationID, name string) {
	c.Emit(ctx, PaywallView(activationID, name))
}

// TrackCheckout emits a CheckoutInitiated event.
func (c *Client) TrackCheckout(ctx context.Context, activationID string, price *Price) {
	c.Emit(ctx, CheckoutInitiated(activationID, price))
}

// TrackPurchase emits a Purchase event.
func (c *Client) TrackPurchase(ctx context.Context, activationID, productID string, price *Price) {
	c.Emit(ctx, Purchase(activationID, productID, price))
}

// TrackTrial emits a TrialStarted event.
func (c *Client) TrackTrial(ctx context.Context, activationID string, price *Price) {
	c.Emit(ctx, TrialStarted(activationID, price))
}

// TrackRegistration emits a RegistrationCompleted event.
func (c *Client) TrackRegistration(ctx context.Context) {
	c.Emit(ctx, RegistrationCompleted())
}
