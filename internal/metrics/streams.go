// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics provides Prometheus metrics for the stream analysis core.
// No session or frame ids are used as labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveStreams is the number of sessions currently holding a registry slot.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framegate_active_streams",
		Help: "Current number of active stream sessions.",
	})

	// StreamStartsTotal counts admitted sessions.
	StreamStartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framegate_stream_starts_total",
		Help: "Total number of stream sessions started.",
	})

	// StreamRejectsTotal counts sessions refused by the admission gate.
	StreamRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_stream_rejects_total",
		Help: "Total number of rejected stream session starts, by reason.",
	}, []string{"reason"})

	// StreamStopsTotal counts completed sessions by stop reason.
	StreamStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_stream_stops_total",
		Help: "Total number of completed stream sessions, by stop reason.",
	}, []string{"reason"})

	// FramesIngestedTotal counts accepted frames by admission reason.
	FramesIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_frames_ingested_total",
		Help: "Total number of ingested frames, by admission decision reason (keyframe, motion, static).",
	}, []string{"reason"})

	// FramesRejectedTotal counts frames refused before any state mutation.
	FramesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_frames_rejected_total",
		Help: "Total number of frames rejected at ingestion, by reason.",
	}, []string{"reason"})
)

// SetActiveStreams sets the active stream gauge.
func SetActiveStreams(n int) {
	ActiveStreams.Set(float64(n))
}

// RecordStreamStart increments the start counter.
func RecordStreamStart() {
	StreamStartsTotal.Inc()
}

// RecordStreamReject increments the rejection counter.
func RecordStreamReject(reason string) {
	StreamRejectsTotal.WithLabelValues(reason).Inc()
}

// RecordStreamStop increments the stop counter.
func RecordStreamStop(reason string) {
	StreamStopsTotal.WithLabelValues(reason).Inc()
}

// RecordFrameIngested increments the ingested frame counter.
func RecordFrameIngested(reason string) {
	FramesIngestedTotal.WithLabelValues(reason).Inc()
}

// RecordFrameRejected increments the rejected frame counter.
func RecordFrameRejected(reason string) {
	FramesRejectedTotal.WithLabelValues(reason).Inc()
}
