package launch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/PratikDhanave/paywall-attribution-service/internal/consent"
	"github.com/PratikDhanave/paywall-attribution-service/internal/metrics"
	"github.com/PratikDhanave/paywall-attribution-service/internal/paywall"
)

// Phase is the startup position rendered to the UI.
type Phase string

const (
	Starting         Phase = "starting"
	AttributionReady Phase = "attribution-ready"
	Loading          Phase = "loading"
	Error            Phase = "error"
	Ready            Phase = "ready"
)

var allPhases = []Phase{Starting, AttributionReady, Loading, Error, Ready}

// View is what the UI layer renders for a phase.
type View struct {
	Phase        Phase          `json:"phase"`
	Detail       string         `json:"detail,omitempty"`
	Consent      consent.Status `json:"consent,omitempty"`
	DeferredLink string         `json:"deferred_link,omitempty"`
	ActivationID string         `json:"activation_id,omitempty"`
}

type ConsentGate interface {
	Request(ctx context.Context) consent.Status
}

type Attribution interface {
	Init(st consent.Status)
	FetchDeferredLink(ctx context.Context) string
}

// Provider is the paywall service's configuration step. CampaignTrigger is
// the placement its remote configuration names, if any.
type Provider interface {
	Configure(ctx context.Context) error
	CampaignTrigger() string
}

// Paywall is the controller mounted once the provider is ready.
type Paywall interface {
	Run(ctx context.Context) error
	RegisterPlacement(ctx context.Context, req paywall.PlacementRequest) (string, error)
}

// Renderer receives every phase change.
type Renderer interface {
	Render(v View)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(View)

func (f RenderFunc) Render(v View) { f(v) }

// Deps are the orchestrator's collaborators. Renderer is optional.
type Deps struct {
	Consent     ConsentGate
	Attribution Attribution
	Provider    Provider
	Paywall     Paywall
	Renderer    Renderer
	// CampaignTrigger is the placement registered once Ready. When empty the
	// provider's remote campaign trigger is used.
	CampaignTrigger string
}

// Orchestrator runs the startup protocol.
type Orchestrator struct {
	deps Deps
	log  *zap.Logger

	once sync.Once
	mu   sync.RWMutex
	view View
}

func New(deps Deps, log *zap.Logger) *Orchestrator {
	o := &Orchestrator{deps: deps, log: log.Named("launch")}
	o.view = View{Phase: Starting}
	setPhaseGauge(Starting)
	return o
}

// Current returns the last rendered view.
func (o *Orchestrator) Current() View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view
}

// Launch runs every step in order, each one finishing before the next
// starts. It returns the final view; a configuration failure is a view, not
// an error. The paywall controller runs until ctx is done. Launch only runs
// once; later calls return the current view.
func (o *Orchestrator) Launch(ctx context.Context) View {
	o.once.Do(func() { o.launch(ctx) })
	return o.Current()
}

func (o *Orchestrator) launch(ctx context.Context) {
	st := o.deps.Consent.Request(ctx)
	o.log.Info("consent resolved", zap.String("status", string(st)))

	o.deps.Attribution.Init(st)

	link := o.deps.Attribution.FetchDeferredLink(ctx)
	if link != "" {
		o.log.Info("install attributed to deferred link", zap.String("url", link))
	} else {
		o.log.Info("no deferred link for this launch")
	}

	o.render(View{Phase: AttributionReady, Consent: st, DeferredLink: link})
	o.render(View{Phase: Loading, Consent: st, DeferredLink: link})

	if err := o.deps.Provider.Configure(ctx); err != nil {
		o.log.Error("paywall service configuration failed", zap.Error(err))
		o.render(View{Phase: Error, Detail: err.Error(), Consent: st, DeferredLink: link})
		return
	}

	go func() {
		if err := o.deps.Paywall.Run(ctx); err != nil && ctx.Err() == nil {
			o.log.Error("paywall controller stopped", zap.Error(err))
		}
	}()

	ready := View{Phase: Ready, Consent: st, DeferredLink: link}
	o.render(ready)

	placement := o.deps.CampaignTrigger
	if placement == "" {
		placement = o.deps.Provider.CampaignTrigger()
	}
	if placement == "" {
		o.log.Info("no campaign trigger configured")
		return
	}
	o.log.Info("showing initial paywall", zap.String("placement", placement))
	id, err := o.deps.Paywall.RegisterPlacement(ctx, paywall.PlacementRequest{Placement: placement})
	if err != nil {
		o.log.Warn("initial placement not registered", zap.Error(err))
	}
	if id != "" {
		ready.ActivationID = id
		o.render(ready)
	}
}

func (o *Orchestrator) render(v View) {
	o.mu.Lock()
	o.view = v
	o.mu.Unlock()

	setPhaseGauge(v.Phase)
	o.log.Debug("phase", zap.String("phase", string(v.Phase)))
	if o.deps.Renderer != nil {
		o.deps.Renderer.Render(v)
	}
}

func setPhaseGauge(p Phase) {
	for _, ph := range allPhases {
		v := 0.0
		if ph == p {
			v = 1
		}
		metrics.LaunchPhase.WithLabelValues(string(ph)).Set(v)
	}
}
