// Package metrics provides the Prometheus-backed ports.Metrics
// implementation: request/error counters, latency and payload-size
// histograms, and the active-WebSocket-session gauge named throughout
// spec §4.6/§4.8.
//
// Grounded on the teacher's internal/metrics/metrics.go Collector — same
// metric set (requests, durations, cache-adjacent counters generalized to
// errors/rate-limit/auth-failure counters, circuit-breaker-adjacent gauge
// generalized to active-session gauge) — but built directly on
// github.com/prometheus/client_golang, a dependency the teacher's go.mod
// already carries but its own hand-rolled text-exposition Collector never
// imports.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector is the gateway's ports.Metrics implementation.
type Collector struct {
	requestsTotal    *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	requestBytes     *prometheus.HistogramVec
	responseBytes    *prometheus.HistogramVec
	proxyTimeouts    *prometheus.CounterVec
	activeWSSessions prometheus.Gauge
}

// New registers the gateway's metric set against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aussiegw",
			Name:      "requests_total",
			Help:      "Total proxied requests, by service, method, and status.",
		}, []string{"service", "method", "status"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aussiegw",
			Name:      "errors_total",
			Help:      "Total pipeline errors, by problem kind.",
		}, []string{"kind"}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aussiegw",
			Name:      "auth_failures_total",
			Help:      "Total authentication failures, by reason.",
		}, []string{"reason"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aussiegw",
			Name:      "rate_limit_exceeded_total",
			Help:      "Total rate-limit rejections, by key type.",
		}, []string{"key_type"}),
		upstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aussiegw",
			Name:      "upstream_latency_seconds",
			Help:      "Upstream round-trip latency, by service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		requestBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aussiegw",
			Name:      "request_bytes",
			Help:      "Inbound request body size, by service.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"service"}),
		responseBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aussiegw",
			Name:      "response_bytes",
			Help:      "Outbound response body size, by service.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"service"}),
		proxyTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aussiegw",
			Name:      "proxy_timeouts_total",
			Help:      "Total upstream timeouts, by host and phase.",
		}, []string{"host", "phase"}),
		activeWSSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aussiegw",
			Name:      "active_websocket_sessions",
			Help:      "Currently running WebSocket sessions.",
		}),
	}
}

// IncRequestsTotal implements ports.Metrics.
func (c *Collector) IncRequestsTotal(serviceID, method string, status int) {
	c.requestsTotal.WithLabelValues(serviceID, method, strconv.Itoa(status)).Inc()
}

// IncErrorsTotal implements ports.Metrics.
func (c *Collector) IncErrorsTotal(kind string) {
	c.errorsTotal.WithLabelValues(kind).Inc()
}

// IncAuthFailures implements ports.Metrics.
func (c *Collector) IncAuthFailures(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// IncRateLimitExceeded implements ports.Metrics.
func (c *Collector) IncRateLimitExceeded(keyType string) {
	c.rateLimited.WithLabelValues(keyType).Inc()
}

// ObserveUpstreamLatency implements ports.Metrics.
func (c *Collector) ObserveUpstreamLatency(serviceID string, d time.Duration) {
	c.upstreamLatency.WithLabelValues(serviceID).Observe(d.Seconds())
}

// ObserveRequestBytes implements ports.Metrics.
func (c *Collector) ObserveRequestBytes(serviceID string, n int64) {
	if n < 0 {
		return
	}
	c.requestBytes.WithLabelValues(serviceID).Observe(float64(n))
}

// ObserveResponseBytes implements ports.Metrics.
func (c *Collector) ObserveResponseBytes(serviceID string, n int64) {
	if n < 0 {
		return
	}
	c.responseBytes.WithLabelValues(serviceID).Observe(float64(n))
}

// IncProxyTimeout implements ports.Metrics.
func (c *Collector) IncProxyTimeout(host, phase string) {
	c.proxyTimeouts.WithLabelValues(host, phase).Inc()
}

// SetActiveWSSessions implements ports.Metrics.
func (c *Collector) SetActiveWSSessions(n int) {
	c.activeWSSessions.Set(float64(n))
}

