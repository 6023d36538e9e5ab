package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's Prometheus collectors. Construction registers
// them on the registerer the caller supplies; exposition (HTTP handler or
// push) is the caller's concern.
type Metrics struct {
	// ProviderRequestCounter counts model calls by provider, model, status.
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderRequestDuration observes model call latency.
	ProviderRequestDuration *prometheus.HistogramVec

	// TokensUsed counts tokens by provider, model, and direction
	// (input/output).
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool dispatches by server, tool, status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration observes tool dispatch latency.
	ToolExecutionDuration *prometheus.HistogramVec

	// ActiveSessions tracks live chat sessions.
	ActiveSessions prometheus.Gauge

	// ErrorCounter counts API-surface failures by kind.
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on reg. Passing
// prometheus.DefaultRegisterer gives process-global metrics; tests pass their
// own registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProviderRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tspark_provider_requests_total",
				Help: "Model generation calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tspark_provider_request_duration_seconds",
				Help:    "Model generation call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tspark_tokens_total",
				Help: "Tokens consumed by provider, model, and direction",
			},
			[]string{"provider", "model", "direction"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tspark_tool_executions_total",
				Help: "Tool dispatches by server, tool, and status",
			},
			[]string{"server", "tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tspark_tool_execution_duration_seconds",
				Help:    "Tool dispatch latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"server", "tool"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tspark_active_sessions",
				Help: "Live chat sessions",
			},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tspark_errors_total",
				Help: "API-surface failures by error kind",
			},
			[]string{"kind"},
		),
	}
}

// ObserveProviderCall records one model call's outcome and latency.
func (m *Metrics) ObserveProviderCall(provider, model, status string, elapsed time.Duration) {
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
}

// ObserveTokens records a call's token usage.
func (m *Metrics) ObserveTokens(provider, model string, input, output int64) {
	if input > 0 {
		m.TokensUsed.WithLabelValues(provider, model, "input").Add(float64(input))
	}
	if output > 0 {
		m.TokensUsed.WithLabelValues(provider, model, "output").Add(float64(output))
	}
}

// ObserveToolCall records one tool dispatch.
func (m *Metrics) ObserveToolCall(server, tool, status string, elapsed time.Duration) {
	m.ToolExecutionCounter.WithLabelValues(server, tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(server, tool).Observe(elapsed.Seconds())
}

// CountError bumps the failure counter for one error kind.
func (m *Metrics) CountError(kind string) {
	m.ErrorCounter.WithLabelValues(kind).Inc()
}
