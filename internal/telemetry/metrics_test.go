package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.ActiveRequests == nil {
		t.Error("ActiveRequests is nil")
	}
	if m.UpstreamDuration == nil {
		t.Error("UpstreamDuration is nil")
	}
	if m.UpstreamErrors == nil {
		t.Error("UpstreamErrors is nil")
	}
	if m.FallbackDepth == nil {
		t.Error("FallbackDepth is nil")
	}
	if m.HealthScore == nil {
		t.Error("HealthScore is nil")
	}
	if m.QuotaExhausted == nil {
		t.Error("QuotaExhausted is nil")
	}
	if m.TokensProcessed == nil {
		t.Error("TokensProcessed is nil")
	}
	if m.CostTotal == nil {
		t.Error("CostTotal is nil")
	}
	if m.BudgetRejects == nil {
		t.Error("BudgetRejects is nil")
	}
	if m.CostQueueLength == nil {
		t.Error("CostQueueLength is nil")
	}
	if m.CostEntriesDropped == nil {
		t.Error("CostEntriesDropped is nil")
	}

	// Verify metrics can be gathered without error.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	// Increment counters and observe histograms to verify they work.
	m.RequestsTotal.WithLabelValues("POST", "/v1/chat/completions", "200").Inc()
	m.UpstreamErrors.WithLabelValues("openai", "rate_limited").Inc()
	m.FallbackDepth.Observe(2)
	m.HealthScore.WithLabelValues("openai").Set(0.55)
	m.QuotaExhausted.WithLabelValues("anthropic").Inc()
	m.TokensProcessed.WithLabelValues("openai", "gpt-4o", "prompt").Add(128)
	m.CostTotal.WithLabelValues("openai", "gpt-4o").Add(0.0123)
	m.BudgetRejects.Inc()
	m.CostQueueLength.Set(7)
	m.CostEntriesDropped.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"switchyard_requests_total",
		"switchyard_upstream_errors_total",
		"switchyard_fallback_depth",
		"switchyard_provider_health_score",
		"switchyard_quota_exhausted_total",
		"switchyard_tokens_processed_total",
		"switchyard_cost_usd_total",
		"switchyard_budget_rejections_total",
		"switchyard_cost_queue_length",
		"switchyard_cost_entries_dropped_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
