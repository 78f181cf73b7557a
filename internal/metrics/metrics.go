package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rule execution metrics
var (
	RulesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmailer_rules_total",
			Help: "Total number of rules attempted",
		},
		[]string{"result"},
	)

	MessagesMatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gmailer_messages_matched_total",
			Help: "Total number of messages matched by rule searches",
		},
	)

	MessagesMutatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gmailer_messages_mutated_total",
			Help: "Total number of messages whose labels were changed",
		},
	)

	RuleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gmailer_rule_duration_seconds",
			Help:    "Duration of a single rule execution in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"result"},
	)
)

// Provider call metrics
var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmailer_provider_calls_total",
			Help: "Total number of mail provider calls",
		},
		[]string{"provider", "operation", "status"},
	)
)

// HTTP API metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmailer_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"endpoint", "status"},
	)
)

// ObserveProvider records the outcome of one provider call.
func ObserveProvider(provider, operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ProviderCallsTotal.WithLabelValues(provider, operation, status).Inc()
}
