package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects counters and histograms for the decision pipeline.
// During closed-loop highway runs they are exposed on the optional
// /metrics endpoint; batch runs use them for end-of-run summaries.
type Metrics struct {
	// LLMRequestCounter counts structured-output requests.
	// Labels: provider, model, status (success|error).
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// VerificationCounter counts reachability checks.
	// Labels: status (safe|unsafe).
	VerificationCounter *prometheus.CounterVec

	// DecisionCounter counts executed actions.
	// Labels: longitudinal, lateral.
	DecisionCounter *prometheus.CounterVec

	// FailSafeCounter counts decisions where no ranked action verified.
	FailSafeCounter prometheus.Counter

	// SimulationSteps counts closed-loop simulation steps.
	SimulationSteps prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers the metric set on a fresh registry,
// so parallel runs in tests never collide on registration.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		LLMRequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandra_llm_requests_total",
			Help: "Structured-output LLM requests by provider, model and status.",
		}, []string{"provider", "model", "status"}),
		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sandra_llm_request_duration_seconds",
			Help:    "LLM request latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		VerificationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandra_verifications_total",
			Help: "Reachability verifications by outcome.",
		}, []string{"status"}),
		DecisionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandra_decisions_total",
			Help: "Executed actions by maneuver pair.",
		}, []string{"longitudinal", "lateral"}),
		FailSafeCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandra_failsafe_total",
			Help: "Decisions that fell back to the fail-safe corridor.",
		}),
		SimulationSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandra_simulation_steps_total",
			Help: "Closed-loop simulation steps executed.",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.LLMRequestCounter,
		m.LLMRequestDuration,
		m.VerificationCounter,
		m.DecisionCounter,
		m.FailSafeCounter,
		m.SimulationSteps,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
