// Package metrics exposes Prometheus collectors for caches, upstream fetches,
// stream clients and alerts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "polyterminal"

var (
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Requests served from a fresh cache slot.",
	}, []string{"source"})

	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Requests that required an upstream fetch.",
	}, []string{"source"})

	StaleServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_stale_served_total",
		Help:      "Stale cache entries served after a failed upstream fetch.",
	}, []string{"source"})

	UpstreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_errors_total",
		Help:      "Failed upstream fetches.",
	}, []string{"source"})

	UpstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_fetch_seconds",
		Help:      "Upstream fetch latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	StreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_clients",
		Help:      "Connected WebSocket clients.",
	})

	AlertsTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_triggered_total",
		Help:      "Alert triggers produced by the refresh loop.",
	})
)

func init() {
	prometheus.MustRegister(
		CacheHits,
		CacheMisses,
		StaleServed,
		UpstreamErrors,
		UpstreamDuration,
		StreamClients,
		AlertsTriggered,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
