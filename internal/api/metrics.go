package api

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the HTTP metrics of the API
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec
	RateLimitHits    *prometheus.CounterVec
}

// NewMetrics creates the API metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeinfer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		LatencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgeinfer_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeinfer_rate_limit_hits_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"method"},
		),
	}

	reg.MustRegister(m.RequestCounter)
	reg.MustRegister(m.LatencyHistogram)
	reg.MustRegister(m.RateLimitHits)
	return m
}

// IncrementRequest increments the request counter
func (m *Metrics) IncrementRequest(method, route string, status int) {
	m.RequestCounter.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordLatency records request latency
func (m *Metrics) RecordLatency(method, route string, seconds float64) {
	m.LatencyHistogram.WithLabelValues(method, route).Observe(seconds)
}

// IncrementRateLimitHit increments the rate limit hit counter. Client ids
// are not used as labels since their number is unbounded.
func (m *Metrics) IncrementRateLimitHit(method string) {
	m.RateLimitHits.WithLabelValues(method).Inc()
}
