package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsObservers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveProviderCall("anthropic", "claude-sonnet-4-5", "ok", 250*time.Millisecond)
	m.ObserveProviderCall("anthropic", "claude-sonnet-4-5", "error", time.Second)
	m.ObserveTokens("anthropic", "claude-sonnet-4-5", 120, 30)
	m.ObserveToolCall("files", "read", "ok", 5*time.Millisecond)
	m.ActiveSessions.Inc()
	m.CountError("provider")

	if got := testutil.ToFloat64(m.ProviderRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-5", "ok")); got != 1 {
		t.Errorf("ok requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProviderRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-5", "error")); got != 1 {
		t.Errorf("error requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-5", "input")); got != 120 {
		t.Errorf("input tokens = %v, want 120", got)
	}
	if got := testutil.ToFloat64(m.TokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-5", "output")); got != 30 {
		t.Errorf("output tokens = %v, want 30", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("files", "read", "ok")); got != 1 {
		t.Errorf("tool executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("provider")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestMetricsZeroTokensNotCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTokens("openai", "gpt-4o", 0, 0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == "tspark_tokens_total" && len(fam.GetMetric()) != 0 {
			t.Errorf("zero usage created %d series", len(fam.GetMetric()))
		}
	}
}

func TestMetricsSeparateRegistries(t *testing.T) {
	// Two instances must not collide when registered on separate registries.
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	a.CountError("config")
	if got := testutil.ToFloat64(b.ErrorCounter.WithLabelValues("config")); got != 0 {
		t.Errorf("registries shared state: %v", got)
	}
}
