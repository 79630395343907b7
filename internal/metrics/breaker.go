// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "framegate_breaker_state",
		Help: "Current backend breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"breaker"})

	BreakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_breaker_transitions_total",
		Help: "Total number of backend breaker state changes.",
	}, []string{"breaker", "from", "to"})

	BreakerRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_breaker_rejected_total",
		Help: "Total number of backend calls refused without being attempted.",
	}, []string{"breaker"})
)

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordBreakerTransition moves the state gauge and counts the change.
// An empty from only initialises the gauge.
func RecordBreakerTransition(breaker, from, to string) {
	BreakerState.WithLabelValues(breaker).Set(breakerStateValue(to))
	if from != "" {
		BreakerTransitionsTotal.WithLabelValues(breaker, from, to).Inc()
	}
}

// RecordBreakerRejected counts a call refused by an open breaker.
func RecordBreakerRejected(breaker string) {
	BreakerRejectedTotal.WithLabelValues(breaker).Inc()
}
