package navigation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/paywall-attribution-service/internal/entitlement"
)

// Destination is a logical screen.
type Destination string

const (
	Main    Destination = "main"
	Success Destination = "purchase-success"
	Menu    Destination = "menu"
)

// DefaultRedirectDelay is how long the success screen stays up.
const DefaultRedirectDelay = 3 * time.Second

// Navigator pushes a destination.
type Navigator interface {
	Navigate(ctx context.Context, to Destination)
}

// Router is the navigation surface. It starts on Main and owns the success
// screen's redirect timer.
type Router struct {
	store entitlement.Reader
	delay time.Duration
	log   *zap.Logger

	mu      sync.Mutex
	history []Destination
	unmount context.CancelFunc
}

// NewRouter returns a router whose success screen redirects to Main after
// delay once the user is subscribed.
func NewRouter(store entitlement.Reader, delay time.Duration, log *zap.Logger) *Router {
	if delay <= 0 {
		delay = DefaultRedirectDelay
	}
	return &Router{
		store:   store,
		delay:   delay,
		log:     log.Named("navigation"),
		history: []Destination{Main},
	}
}

// Navigate pushes to.
func (r *Router) Navigate(_ context.Context, to Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, to)
	r.log.Info("navigate", zap.String("to", string(to)))
	r.mountLocked(to)
}

// replaceLocked swaps the current destination for to.
func (r *Router) replaceLocked(to Destination) {
	r.history[len(r.history)-1] = to
	r.log.Info("replace", zap.String("to", string(to)))
	r.mountLocked(to)
}

// Current returns the destination on top.
func (r *Router) Current() Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history[len(r.history)-1]
}

// History returns every destination pushed so far, oldest first.
func (r *Router) History() []Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Destination, len(r.history))
	copy(out, r.history)
	return out
}

// Close unmounts the current screen.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unmountLocked()
}

func (r *Router) unmountLocked() {
	if r.unmount != nil {
		r.unmount()
		r.unmount = nil
	}
}

func (r *Router) mountLocked(to Destination) {
	r.unmountLocked()
	if to != Success {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.unmount = cancel
	go r.successScreen(ctx)
}

// successScreen waits delay after each change of the subscribed flag and
// then, if subscribed, replaces itself with Main.
func (r *Router) successScreen(ctx context.Context) {
	updates := r.store.Subscribe(ctx)

	first, ok := <-updates
	if !ok {
		return
	}
	subscribed := first.IsSubscribed()
	timer := time.NewTimer(r.delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.IsSubscribed() == subscribed {
				continue
			}
			subscribed = snap.IsSubscribed()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.delay)
		case <-timer.C:
			if !subscribed {
				continue
			}
			r.mu.Lock()
			if ctx.Err() == nil {
				r.replaceLocked(Main)
			}
			r.mu.Unlock()
			return
		}
	}
}
