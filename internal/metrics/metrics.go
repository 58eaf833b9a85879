// Package metrics exposes Prometheus counters and histograms for the
// static file server, the POST echo engine, and the bind-switch
// lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "servelocal_http_requests_total",
		Help: "Total HTTP requests by route kind and status code.",
	}, []string{"kind", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "servelocal_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	compressionRatio = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "servelocal_compression_ratio",
		Help:    "Ratio of compressed bytes to original bytes for served files.",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	echoRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "servelocal_echo_requests_total",
		Help: "Total POST echo requests by detected content kind.",
	}, []string{"content_kind"})

	bindSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "servelocal_bind_switches_total",
		Help: "Total port auto-switch attempts by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		httpRequests,
		httpDuration,
		compressionRatio,
		echoRequests,
		bindSwitches,
	)
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records an HTTP request by route kind (file, redirect,
// rewrite, 404) and status code.
func ObserveRequest(kind string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveCompression records the ratio of compressed to original size
// for a served file. Ratio is in (0, 1]; smaller is better compression.
func ObserveCompression(ratio float64) {
	compressionRatio.Observe(ratio)
}

// ObserveEcho records a POST echo request by its detected content kind
// (json, form, multipart, text, binary).
func ObserveEcho(contentKind string) {
	echoRequests.WithLabelValues(contentKind).Inc()
}

// ObserveBindSwitch records a port auto-switch attempt. outcome is
// "switched" or "exhausted".
func ObserveBindSwitch(outcome string) {
	bindSwitches.WithLabelValues(outcome).Inc()
}
