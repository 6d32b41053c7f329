// Package metrics exposes Prometheus collectors for the booking engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_admissions_total",
			Help: "Booking admission attempts by outcome",
		},
		[]string{"outcome"},
	)

	lifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Booking lifecycle transitions by target status and outcome",
		},
		[]string{"transition", "outcome"},
	)

	compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_compensations_total",
			Help: "Compensating actions after a failed inventory decrement",
		},
		[]string{"result"},
	)

	restoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_inventory_restore_failures_total",
			Help: "Cancellations whose inventory restore failed and needs reconciliation",
		},
	)

	numberFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_number_fallbacks_total",
			Help: "Booking numbers issued by the unchecked timestamp scheme",
		},
	)

	lockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booking_event_lock_wait_seconds",
			Help:    "Time spent waiting for the per-event admission lock",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

// TrackAdmission counts an admission attempt. outcome is "admitted" or
// the rejection kind.
func TrackAdmission(outcome string) {
	admissions.WithLabelValues(outcome).Inc()
}

// TrackTransition counts a confirm or cancel attempt.
func TrackTransition(transition, outcome string) {
	lifecycleTransitions.WithLabelValues(transition, outcome).Inc()
}

// TrackCompensation records the result of a compensating action
// ("deleted", "invalidated", "failed").
func TrackCompensation(result string) {
	compensations.WithLabelValues(result).Inc()
}

// TrackRestoreFailure counts a lost inventory restore.
func TrackRestoreFailure() {
	restoreFailures.Inc()
}

// TrackNumberFallback counts a fallback booking number.
func TrackNumberFallback() {
	numberFallbacks.Inc()
}

// TrackLockWait observes how long an admission waited for its event lock.
func TrackLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}
