// Package metrics exposes the Prometheus collectors shared by every actor
// binary: kernel tick duration, pending-reservation counts, and RPC
// send/retry outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Registry holds the kernel's own collectors, kept separate from the
	// default global registry so tests can spin up isolated instances.
	Registry = prometheus.NewRegistry()

	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fedres",
			Subsystem: "kernel",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one dispatcher tick (probe+service phases).",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"actor"},
	)

	tickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedres",
			Subsystem: "kernel",
			Name:      "tick_errors_total",
			Help:      "Count of per-reservation errors raised during a tick, aggregated but not fatal to the tick.",
		},
		[]string{"actor"},
	)

	pendingReservations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fedres",
			Subsystem: "kernel",
			Name:      "pending_reservations",
			Help:      "Current number of reservations with a pending operation.",
		},
		[]string{"actor"},
	)

	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedres",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Outbound RPC calls grouped by message type and outcome.",
		},
		[]string{"message", "outcome"},
	)

	rpcRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedres",
			Subsystem: "rpc",
			Name:      "retries_total",
			Help:      "Outbound RPC retries triggered by network_error after backoff.",
		},
		[]string{"message"},
	)

	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fedres",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Duration from outbound RPC send to reply or failure.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"message"},
	)

	allocationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedres",
			Subsystem: "calendar",
			Name:      "allocation_outcomes_total",
			Help:      "Allocator decisions per cycle, grouped by outcome (granted|denied|deferred).",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		tickDuration,
		tickErrors,
		pendingReservations,
		rpcRequests,
		rpcRetries,
		rpcDuration,
		allocationOutcomes,
	)
}

// ObserveTick records the duration and error count of one dispatcher tick.
func ObserveTick(actor string, d time.Duration, errCount int) {
	tickDuration.WithLabelValues(actor).Observe(d.Seconds())
	if errCount > 0 {
		tickErrors.WithLabelValues(actor).Add(float64(errCount))
	}
}

// SetPendingReservations records the current pending-operation count.
func SetPendingReservations(actor string, n int) {
	pendingReservations.WithLabelValues(actor).Set(float64(n))
}

// ObserveRPC records the outcome and duration of one outbound RPC call.
func ObserveRPC(message, outcome string, d time.Duration) {
	rpcRequests.WithLabelValues(message, outcome).Inc()
	rpcDuration.WithLabelValues(message).Observe(d.Seconds())
}

// IncRPCRetry records a retry attempt for the given outbound message type.
func IncRPCRetry(message string) {
	rpcRetries.WithLabelValues(message).Inc()
}

// IncAllocationOutcome records one allocator decision for the current cycle.
func IncAllocationOutcome(outcome string) {
	allocationOutcomes.WithLabelValues(outcome).Inc()
}
