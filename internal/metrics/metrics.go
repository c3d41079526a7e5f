// Package metrics exposes Prometheus counters/gauges for tier promotion,
// quickening, and handler dispatch. client_golang appears throughout the
// retrieved pack's go.mod files (ethereum-go-ethereum among them) but no
// retrieved repo's source actually called it directly, so the call pattern
// here (promauto-registered collectors against a package-level registry)
// follows the library's own documented idiom rather than a specific
// teacher file.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the registry metrics are registered against. Defaults to a
// fresh, unshared registry so importing this package never panics on a
// duplicate registration in a process that also runs its own Prometheus
// exporter; callers that want these metrics served need to register
// Registry (or its collectors) with their own http handler.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	tierTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "optree_tier_transitions_total",
		Help: "Number of times a root program was promoted to a new dispatch tier.",
	}, []string{"to"})

	quickenEvents = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "optree_quicken_events_total",
		Help: "Number of quickening apply/undo attempts, by outcome.",
	}, []string{"action", "applied"})

	handlerDispatches = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "optree_handler_dispatch_total",
		Help: "Number of exception dispatches, by whether a handler was found.",
	}, []string{"found"})

	activeTier = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "optree_active_tier",
		Help: "1 if a program is currently at the given tier, 0 otherwise.",
	}, []string{"tier"})
)

// RecordTierTransition increments the transition counter and updates the
// active-tier gauge for a program moving from one tier to another.
func RecordTierTransition(from, to string) {
	tierTransitions.WithLabelValues(to).Inc()
	activeTier.WithLabelValues(from).Set(0)
	activeTier.WithLabelValues(to).Set(1)
}

// RecordQuicken increments the quickening counter for an apply or undo
// attempt.
func RecordQuicken(action string, applied bool) {
	quickenEvents.WithLabelValues(action, boolLabel(applied)).Inc()
}

// RecordHandlerDispatch increments the handler-dispatch counter.
func RecordHandlerDispatch(found bool) {
	handlerDispatches.WithLabelValues(boolLabel(found)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
