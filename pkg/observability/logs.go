package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/tendril/pkg/domain"
)

// LogHooks logs every lifecycle event at Debug, errors at Warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTrigger: func(ctx context.Context, e *domain.TriggerEvent) {
			logger.DebugContext(ctx, "trigger",
				"tenant_id", e.TenantID,
				"session_id", e.SessionID,
				"flow_id", e.FlowID,
				"event_id", e.EventID,
			)
		},
		OnStep: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, "step",
				"session_id", e.SessionID,
				"node_id", e.NodeID,
				"type", e.NodeType,
				"step", e.Step,
			)
		},
		OnCheckpoint: func(ctx context.Context, e *domain.CheckpointEvent) {
			if e.Diff == nil {
				return
			}
			// var values may carry user data; log the count only
			logger.DebugContext(ctx, "checkpoint",
				"session_id", e.SessionID,
				"vars_changed", len(e.Diff.Vars),
			)
		},
		OnError: func(ctx context.Context, e *domain.ErrorEvent) {
			logger.WarnContext(ctx, "trigger_error",
				"tenant_id", e.TenantID,
				"session_id", e.SessionID,
				"kind", domain.KindOf(e.Err),
			)
		},
	}
}
