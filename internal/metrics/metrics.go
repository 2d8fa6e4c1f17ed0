// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	SanitizedElements    *prometheus.CounterVec
	DestinationsResolved *prometheus.CounterVec
	ProxyErrors          *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soap_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soap_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soap_proxy_upstream_request_duration_seconds",
			Help:    "Outbound call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_proxy_upstream_responses_total",
			Help: "Total destination responses by method and status code.",
		}, []string{"method", "status_code"}),

		SanitizedElements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_proxy_sanitized_elements_total",
			Help: "SOAP header elements removed, by removal rule.",
		}, []string{"rule"}),

		DestinationsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_proxy_destination_resolved_total",
			Help: "Resolved destinations by source.",
		}, []string{"source"}),

		ProxyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soap_proxy_errors_total",
			Help: "Proxy failures by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.SanitizedElements,
		m.DestinationsResolved,
		m.ProxyErrors,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPaths lists the proxy's fixed endpoints. The metrics endpoint is
// configurable and passed to NormalizePath.
var knownPaths = map[string]bool{
	"/_proxy/healthz": true,
	"/_proxy/status":  true,
	"/_proxy/config":  true,
}

// NormalizePath returns a bounded path label for Prometheus metrics. Proxy
// endpoints, metricsPath included, keep their path; forwarded requests share
// one label.
func NormalizePath(path, metricsPath string) string {
	if knownPaths[path] || (metricsPath != "" && path == metricsPath) {
		return path
	}
	if strings.HasPrefix(path, "/_proxy/") {
		return "other"
	}
	return "forwarded"
}
