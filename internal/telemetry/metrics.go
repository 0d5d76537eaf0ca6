// Package telemetry provides observability primitives for the Switchyard gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	FallbackDepth    prometheus.Histogram
	HealthScore      *prometheus.GaugeVec
	QuotaExhausted   *prometheus.CounterVec

	TokensProcessed *prometheus.CounterVec
	CostTotal       *prometheus.CounterVec
	BudgetRejects   prometheus.Counter

	CostQueueLength    prometheus.Gauge
	CostEntriesDropped prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchyard",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "switchyard",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "switchyard",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "switchyard",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream provider call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchyard",
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors.",
		}, []string{"provider", "code"}),

		FallbackDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:                       "switchyard",
			Name:                            "fallback_depth",
			Help:                            "Providers attempted before a routed request succeeded.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}),

		HealthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "switchyard",
			Name:      "provider_health_score",
			Help:      "Moving health score per provider, 0 (failing) to 1 (healthy).",
		}, []string{"provider"}),

		QuotaExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchyard",
			Name:      "quota_exhausted_total",
			Help:      "Chat dispatches skipped because no account had quota.",
		}, []string{"provider"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchyard",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"provider", "model", "type"}),

		CostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchyard",
			Name:      "cost_usd_total",
			Help:      "Total upstream spend in USD.",
		}, []string{"provider", "model"}),

		BudgetRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "switchyard",
			Name:      "budget_rejections_total",
			Help:      "Requests rejected at admission by an enforced budget.",
		}),

		CostQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "switchyard",
			Name:      "cost_queue_length",
			Help:      "Cost entries waiting for the async ledger writer.",
		}),

		CostEntriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "switchyard",
			Name:      "cost_entries_dropped_total",
			Help:      "Cost entries dropped because the writer queue was full.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.FallbackDepth,
		m.HealthScore,
		m.QuotaExhausted,
		m.TokensProcessed,
		m.CostTotal,
		m.BudgetRejects,
		m.CostQueueLength,
		m.CostEntriesDropped,
	)

	return m
}
