package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rpgkernel/pkg/domain"
)

// PrometheusMetricsRecorder exports operation latency and rule outcomes as
// Prometheus collectors.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	rules     *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the collectors with reg
// (prometheus.DefaultRegisterer when nil).
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpgkernel",
			Name:      "operation_duration_seconds",
			Help:      "Latency of service operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpgkernel",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		rules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpgkernel",
			Name:      "rule_outcomes_total",
			Help:      "Planned rules by outcome.",
		}, []string{"rule", "outcome"}),
	}
	for _, c := range []prometheus.Collector{rec.durations, rec.results, rec.rules} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, statusLabel(success)).Inc()
}

// RuleHook counts rule outcomes.
func (r *PrometheusMetricsRecorder) RuleHook() domain.RuleHook {
	return func(_ context.Context, _ string, _ domain.Command, outcome domain.RuleOutcome) {
		r.rules.WithLabelValues(outcome.Rule, outcomeLabel(outcome)).Inc()
	}
}
