// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysisAttemptsTotal counts backend calls by outcome (success, transient, permanent).
	AnalysisAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_analysis_attempts_total",
		Help: "Total number of vision backend calls, by outcome.",
	}, []string{"outcome"})

	// AnalysisResultsTotal counts frames reaching a terminal analysis status.
	AnalysisResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_analysis_results_total",
		Help: "Total number of analysed frames, by terminal status (completed, failed).",
	}, []string{"status"})

	// AnalysisDuration observes end-to-end analysis time including retries.
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framegate_analysis_duration_seconds",
		Help:    "Time from dispatch to terminal status, including retries.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// DispatchQueueDepth is the number of sampled frames waiting for a worker.
	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framegate_dispatch_queue_depth",
		Help: "Current number of sampled frames waiting for analysis.",
	})

	// DispatchDropsTotal counts sampled frames that could not be queued.
	DispatchDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_dispatch_drops_total",
		Help: "Total number of sampled frames dropped before analysis, by reason.",
	}, []string{"reason"})
)

// RecordAnalysisAttempt increments the attempt counter.
func RecordAnalysisAttempt(outcome string) {
	AnalysisAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordAnalysisResult increments the terminal status counter and observes the duration.
func RecordAnalysisResult(status string, seconds float64) {
	AnalysisResultsTotal.WithLabelValues(status).Inc()
	AnalysisDuration.Observe(seconds)
}

// SetDispatchQueueDepth sets the queue depth gauge.
func SetDispatchQueueDepth(n int) {
	DispatchQueueDepth.Set(float64(n))
}

// RecordDispatchDrop increments the drop counter.
func RecordDispatchDrop(reason string) {
	DispatchDropsTotal.WithLabelValues(reason).Inc()
}
