package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsForwarded counts commerce events handed to the attribution backend.
	EventsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_events_forwarded_total",
			Help: "Commerce events handed to the attribution backend",
		},
		[]string{"kind"},
	)

	// EventsFailed counts commerce events the attribution backend rejected.
	EventsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_events_failed_total",
			Help: "Commerce events dropped after a delivery failure",
		},
		[]string{"kind"},
	)

	// EventsDropped counts buffered events discarded because the buffer was full.
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attribution_events_dropped_total",
			Help: "Buffered attribution events dropped before delivery",
		},
	)

	// DeferredLinks counts deferred link lookups by outcome (found, empty).
	DeferredLinks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_deferred_link_lookups_total",
			Help: "Deferred deep link lookups by outcome",
		},
		[]string{"outcome"},
	)

	// PaywallOutcomes counts terminal paywall activation states.
	PaywallOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywall_activation_outcomes_total",
			Help: "Terminal states reached by paywall activations",
		},
		[]string{"state"},
	)

	// LaunchPhase is 1 for the current launch phase and 0 for the others.
	LaunchPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "launch_phase",
			Help: "Current launch phase",
		},
		[]string{"phase"},
	)
)

// Registry holds every collector this service exposes.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(EventsForwarded, EventsFailed, EventsDropped, DeferredLinks, PaywallOutcomes, LaunchPhase)
}
