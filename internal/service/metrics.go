package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the storefront domain counters.
type Metrics struct {
	CartMutations    *prometheus.CounterVec
	PersistFailures  prometheus.Counter
	HydrateFallbacks *prometheus.CounterVec
	DroppedLines     prometheus.Counter
	ConsentDecisions *prometheus.CounterVec
	ContactMessages  prometheus.Counter
	Notifications    prometheus.Counter
}

// NewMetrics registers the domain counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CartMutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_cart_mutations_total",
			Help: "Successful cart mutations by kind",
		}, []string{"kind"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "storefront_cart_persist_failures_total",
			Help: "Cart writes that failed and were rolled back",
		}),
		HydrateFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_cart_hydrate_fallbacks_total",
			Help: "Hydrations that fell back to an empty cart, by reason",
		}, []string{"reason"}),
		DroppedLines: f.NewCounter(prometheus.CounterOpts{
			Name: "storefront_cart_dropped_lines_total",
			Help: "Stored cart lines discarded during hydration",
		}),
		ConsentDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_consent_decisions_total",
			Help: "Cookie consent decisions by outcome",
		}, []string{"decision"}),
		ContactMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "storefront_contact_messages_total",
			Help: "Accepted contact form submissions",
		}),
		Notifications: f.NewCounter(prometheus.CounterOpts{
			Name: "storefront_notifications_total",
			Help: "Notifications raised on pages",
		}),
	}
}

// NopMetrics returns counters registered nowhere.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
