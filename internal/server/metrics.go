package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the disclosure service
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	DisclosureDecisions *prometheus.CounterVec
	TokenOperations     *prometheus.CounterVec
	EscrowTransitions   *prometheus.CounterVec
}

// NewMetrics registers and returns the service's Prometheus collectors
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "disclosure_http_requests_total",
			Help: "HTTP requests processed, by method, route and status code",
		}, []string{"method", "route", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "disclosure_http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		DisclosureDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "disclosure_decisions_total",
			Help: "Disclosure evaluations, by decision outcome",
		}, []string{"decision"}),
		TokenOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "disclosure_token_operations_total",
			Help: "Emergency token operations, by operation and result",
		}, []string{"operation", "result"}),
		EscrowTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "disclosure_escrow_transitions_total",
			Help: "Escrow request state transitions, by resulting status",
		}, []string{"status"}),
	}
}
