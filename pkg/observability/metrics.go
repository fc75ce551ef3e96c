package observability

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors.
type Metrics struct {
	Triggers    *prometheus.CounterVec
	Steps       *prometheus.CounterVec
	Checkpoints prometheus.Counter
	Skips       *prometheus.CounterVec
	Errors      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_triggers_total",
				Help: "Inbound events accepted by the engine",
			},
			[]string{"tenant_id"},
		),
		Steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_steps_total",
				Help: "Nodes evaluated, by node type",
			},
			[]string{"node_type"},
		),
		Checkpoints: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tendril_checkpoints_total",
				Help: "Session checkpoints persisted",
			},
		),
		Skips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_duplicate_events_total",
				Help: "Events skipped because they repeat the last processed event",
			},
			[]string{"tenant_id"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_trigger_errors_total",
				Help: "Trigger calls that failed, by error kind",
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Triggers, m.Steps, m.Checkpoints, m.Skips, m.Errors)
	}
	return m
}

// Hooks returns lifecycle hooks that update the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTrigger: func(_ context.Context, e *domain.TriggerEvent) {
			m.Triggers.WithLabelValues(e.TenantID).Inc()
		},
		OnStep: func(_ context.Context, e *domain.StepEvent) {
			m.Steps.WithLabelValues(string(e.NodeType)).Inc()
		},
		OnCheckpoint: func(_ context.Context, _ *domain.CheckpointEvent) {
			m.Checkpoints.Inc()
		},
		OnSkip: func(_ context.Context, e *domain.EventBase) {
			m.Skips.WithLabelValues(e.TenantID).Inc()
		},
		OnError: func(_ context.Context, e *domain.ErrorEvent) {
			m.Errors.WithLabelValues(string(domain.KindOf(e.Err))).Inc()
		},
	}
}
