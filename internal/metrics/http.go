// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts API requests by route pattern and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_http_requests_total",
		Help: "Total number of HTTP requests, by route and status code class.",
	}, []string{"route", "method", "code"})

	// HTTPRequestDuration observes request latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framegate_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// RateLimitedTotal counts requests refused by a rate limiter.
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegate_ratelimit_exceeded_total",
		Help: "Total rate limit rejections",
	}, []string{"limit_type"})
)

// RecordRateLimited increments the rate limit counter.
func RecordRateLimited(limitType string) {
	RateLimitedTotal.WithLabelValues(limitType).Inc()
}
