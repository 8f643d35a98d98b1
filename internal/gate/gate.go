package gate

import (
	"context"

	"github.com/PratikDhanave/paywall-attribution-service/internal/entitlement"
	"github.com/PratikDhanave/paywall-attribution-service/internal/paywall"
)

// DefaultPlacement is registered by the upsell view when the caller names none.
const DefaultPlacement = "premium_feature"

// ViewKind is what the gate shows.
type ViewKind string

const (
	Waiting   ViewKind = "waiting"
	Protected ViewKind = "protected"
	Fallback  ViewKind = "fallback"
	Upsell    ViewKind = "upsell"
)

// View is a gate decision. Placement is set for Upsell.
type View struct {
	Kind      ViewKind `json:"kind"`
	Placement string   `json:"placement,omitempty"`
}

// Registrar starts a paywall placement.
type Registrar interface {
	RegisterPlacement(ctx context.Context, req paywall.PlacementRequest) (string, error)
}

// Gate decides between protected content and the paywall.
type Gate struct {
	placement   string
	hasFallback bool
	paywall     Registrar
}

// Option configures a Gate.
type Option func(*Gate)

// WithPlacement sets the placement the upsell view registers.
func WithPlacement(p string) Option {
	return func(g *Gate) {
		if p != "" {
			g.placement = p
		}
	}
}

// WithFallback makes the gate show the caller's own content instead of the
// default upsell.
func WithFallback() Option {
	return func(g *Gate) { g.hasFallback = true }
}

func New(r Registrar, opts ...Option) *Gate {
	g := &Gate{placement: DefaultPlacement, paywall: r}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Decide maps a snapshot to a view.
func (g *Gate) Decide(s entitlement.Snapshot) View {
	switch {
	case s.IsLoading():
		return View{Kind: Waiting}
	case s.IsSubscribed():
		return View{Kind: Protected}
	case g.hasFallback:
		return View{Kind: Fallback}
	default:
		return View{Kind: Upsell, Placement: g.placement}
	}
}

// Unlock is the upsell view's action.
func (g *Gate) Unlock(ctx context.Context) (string, error) {
	return g.paywall.RegisterPlacement(ctx, paywall.PlacementRequest{Placement: g.placement})
}

// Watch yields a view for every store change, skipping repeats of the view
// already shown. The channel closes when ctx is done.
func (g *Gate) Watch(ctx context.Context, store entitlement.Reader) <-chan View {
	out := make(chan View)
	go func() {
		defer close(out)
		var last *View
		for snap := range store.Subscribe(ctx) {
			v := g.Decide(snap)
			if last != nil && *last == v {
				continue
			}
			select {
			case out <- v:
				last = &v
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
