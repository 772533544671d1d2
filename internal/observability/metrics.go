// Package observability wires tracing and domain metrics.
//
// This file declares the Prometheus collectors for the number pool and the
// verification flow. Label sets are small and fixed so cardinality stays
// bounded regardless of traffic:
//
//   - result:  outcome of an assignment request or release attempt
//   - outcome: outcome of an inbound call correlation
//
// Collectors are registered on the default registry in init() and exposed by
// the /metrics route.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Assignments counts assignment requests by result
	// (extended, assigned, purchased, verified, race, error).
	Assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialverify_assignments_total",
			Help: "Number assignment requests by result.",
		},
		[]string{"result"},
	)

	// NumbersPurchased counts numbers bought from the provider.
	NumbersPurchased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dialverify_numbers_purchased_total",
			Help: "Phone numbers purchased from the telephony provider.",
		},
	)

	// NumbersReleased counts release attempts during reclamation by result
	// (released, failed).
	NumbersReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialverify_numbers_released_total",
			Help: "Leased phone numbers released back to the provider.",
		},
		[]string{"result"},
	)

	// Finalizations counts inbound calls by correlation outcome
	// (matched, unmatched, duplicate).
	Finalizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialverify_finalizations_total",
			Help: "Inbound calls processed by correlation outcome.",
		},
		[]string{"outcome"},
	)

	// InventorySize gauges the number of leased numbers held.
	InventorySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dialverify_inventory_numbers",
			Help: "Leased phone numbers currently held in inventory.",
		},
	)

	// CallLogPurges counts provider call-log deletions by result.
	CallLogPurges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialverify_call_log_purges_total",
			Help: "Provider call-log deletions by result.",
		},
		[]string{"result"},
	)

	// ReclamationDuration observes how long a reclamation run takes.
	ReclamationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dialverify_reclamation_duration_seconds",
			Help:    "Duration of daily reclamation runs in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(
		Assignments,
		NumbersPurchased,
		NumbersReleased,
		Finalizations,
		InventorySize,
		CallLogPurges,
		ReclamationDuration,
	)
}
