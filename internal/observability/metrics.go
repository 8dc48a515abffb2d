// Package observability wires Prometheus metrics, OpenTelemetry tracing and
// slog logging for the runtime.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors recorded by the orchestration core.
//
// A nil *Metrics is valid; every recording method is a no-op on nil so
// components can be constructed without metrics in tests.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordLLMRequest("primary", "claude-sonnet-4", "success", 1.2)
type Metrics struct {
	// LLMRequestCounter counts provider attempts.
	// Labels: provider, model, status (success|error|skipped)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ProviderCooldowns counts transitions into cooldown.
	// Labels: provider
	ProviderCooldowns *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|denied|timeout|invalid)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// MessageCounter tracks bus traffic.
	// Labels: channel, direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// BusRejections counts publishes refused because of backpressure.
	// Labels: topic
	BusRejections *prometheus.CounterVec

	// ActiveTurns is the number of turns currently in flight.
	ActiveTurns prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to keep them isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawcore_llm_requests_total",
				Help: "Total number of provider attempts by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clawcore_llm_request_duration_seconds",
				Help:    "Duration of provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawcore_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ProviderCooldowns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawcore_provider_cooldowns_total",
				Help: "Number of times a provider entered cooldown",
			},
			[]string{"provider"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clawcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawcore_messages_total",
				Help: "Total number of messages by channel and direction",
			},
			[]string{"channel", "direction"},
		),
		BusRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawcore_bus_rejections_total",
				Help: "Publishes rejected because a subscriber buffer was full",
			},
			[]string{"topic"},
		),
		ActiveTurns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "clawcore_active_turns",
				Help: "Number of agent turns currently in flight",
			},
		),
	}
}

// RecordLLMRequest records one provider attempt.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	if status != "skipped" {
		m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	}
}

// RecordTokens adds token usage for a successful completion.
func (m *Metrics) RecordTokens(provider, model string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completion))
	}
}

// RecordCooldown counts a provider entering cooldown.
func (m *Metrics) RecordCooldown(provider string) {
	if m == nil {
		return
	}
	m.ProviderCooldowns.WithLabelValues(provider).Inc()
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// MessageReceived counts an inbound message.
func (m *Metrics) MessageReceived(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "inbound").Inc()
}

// MessageSent counts an outbound message.
func (m *Metrics) MessageSent(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "outbound").Inc()
}

// RecordBusRejection counts a backpressure rejection on topic.
func (m *Metrics) RecordBusRejection(topic string) {
	if m == nil {
		return
	}
	m.BusRejections.WithLabelValues(topic).Inc()
}

// TurnStarted increments the in-flight turn gauge and returns its decrement.
func (m *Metrics) TurnStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveTurns.Inc()
	return m.ActiveTurns.Dec
}
