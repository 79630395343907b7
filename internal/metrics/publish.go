// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishTotal counts result publications by outcome (ok, error, oversize).
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_publish_total",
		Help: "Total number of result publications, by outcome.",
	}, []string{"outcome"})

	// PublishPayloadBytes observes the size of shaped payloads.
	PublishPayloadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framegate_publish_payload_bytes",
		Help:    "Size of published result payloads in bytes.",
		Buckets: []float64{256, 512, 1024, 2048, 4096, 8192, 10240},
	})

	// PublishTruncatedTotal counts payloads whose description or tags were cut.
	PublishTruncatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_publish_truncated_total",
		Help: "Total number of payloads shortened during shaping, by field.",
	}, []string{"field"})

	// BusDroppedTotal counts in-process subscriber drops.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_bus_dropped_total",
		Help: "Total number of in-memory bus message drops by topic and reason",
	}, []string{"topic", "reason"})
)

// RecordPublish increments the publish counter.
func RecordPublish(outcome string) {
	PublishTotal.WithLabelValues(outcome).Inc()
}

// ObservePayloadBytes records a payload size.
func ObservePayloadBytes(n int) {
	PublishPayloadBytes.Observe(float64(n))
}

// RecordTruncation increments the truncation counter for a field.
func RecordTruncation(field string) {
	PublishTruncatedTotal.WithLabelValues(field).Inc()
}

// IncBusDropReason records a dropped bus message with a concrete reason.
func IncBusDropReason(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(topic, reason).Inc()
}
