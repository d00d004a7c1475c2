// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vintagemap_token_refreshes_total",
			Help: "Token refresh attempts by result",
		},
		[]string{"result"}, // "ok", "failed", "no_refresh_token"
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vintagemap_upstream_requests_total",
			Help: "Requests sent to the Strava API by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vintagemap_upstream_request_duration_seconds",
			Help:    "Latency of Strava API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	IngestItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vintagemap_ingest_items_total",
			Help: "Activities processed by ingestion runs",
		},
		[]string{"result"}, // "loaded", "cached", "failed"
	)

	IngestRunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vintagemap_ingest_runs_active",
			Help: "Ingestion runs currently draining",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vintagemap_http_requests_total",
			Help: "HTTP requests served by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vintagemap_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vintagemap_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordUpstream records one Strava API call. Status 0 means the request never got a response.
func RecordUpstream(endpoint string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequests.WithLabelValues(endpoint, label).Inc()
	UpstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func RecordHTTP(method, route string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
