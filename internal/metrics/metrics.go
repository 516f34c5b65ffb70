// Package metrics defines the prometheus collectors shared across packages.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup outcomes.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

var (
	// EnrichLookups counts provider lookups by provider and outcome.
	EnrichLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrich_lookups_total",
			Help: "Email lookups per provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// EnrichLatency observes provider call latency in seconds.
	EnrichLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrich_lookup_duration_seconds",
			Help:    "Provider lookup latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider"},
	)

	// Generations counts outreach generations by outcome.
	Generations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_requests_total",
			Help: "Outreach message generation requests by outcome.",
		},
		[]string{"outcome"},
	)

	// CreditsConsumed counts debited credits by kind.
	CreditsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_consumed_total",
			Help: "Credits debited by kind.",
		},
		[]string{"kind"},
	)

	// HTTPRequests counts API requests by method, route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration observes API request latency by method and route.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PollerTicks counts enrichment status polls by result.
	PollerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_poller_ticks_total",
			Help: "Enrichment status poll ticks by result.",
		},
		[]string{"result"},
	)
)

// RecordLookup records one provider call.
func RecordLookup(provider, outcome string, d time.Duration) {
	EnrichLookups.WithLabelValues(provider, outcome).Inc()
	EnrichLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordHTTP records one served request. path must be the route pattern.
func RecordHTTP(method, path string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
