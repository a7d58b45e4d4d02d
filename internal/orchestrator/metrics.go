package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("orderdesk/internal/orchestrator")

// Step outcomes reported on orderdesk_step_invocations_total.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomePanic   = "panic"
	outcomeLimited = "limit_exceeded"
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	Turns         *prometheus.CounterVec
	Steps         *prometheus.CounterVec
	Handoffs      *prometheus.CounterVec
	Collaborators *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderdesk",
			Name:      "turns_total",
			Help:      "Conversation turns handled, by final status.",
		}, []string{"status"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderdesk",
			Name:      "step_invocations_total",
			Help:      "Guarded pipeline step invocations, by step and outcome.",
		}, []string{"step", "outcome"}),
		Handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderdesk",
			Name:      "handoffs_total",
			Help:      "Conversations escalated to a human agent, by reason.",
		}, []string{"reason"}),
		Collaborators: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orderdesk",
			Name:      "collaborator_seconds",
			Help:      "Latency of collaborator calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collaborator", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Turns, m.Steps, m.Handoffs, m.Collaborators)
	}
	return m
}

func (m *Metrics) step(name, outcome string) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(name, outcome).Inc()
}
