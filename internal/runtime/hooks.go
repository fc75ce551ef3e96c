package runtime

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

func (e *Engine) eventBase(typ domain.EventType, tenantID, sessionID string) domain.EventBase {
	return domain.EventBase{
		Timestamp: e.now().UTC(),
		Type:      typ,
		TenantID:  tenantID,
		SessionID: sessionID,
	}
}

func (e *Engine) emitTrigger(ctx context.Context, req domain.TriggerRequest, sessionID, flowID string) {
	if e.hooks.OnTrigger == nil {
		return
	}
	e.hooks.OnTrigger(ctx, &domain.TriggerEvent{
		EventBase: e.eventBase(domain.EventTrigger, req.TenantID, sessionID),
		FlowID:    flowID,
		EventID:   req.EventID,
		ChannelID: req.ChannelID,
	})
}

func (e *Engine) emitStep(ctx context.Context, t *tick, res stepResult) {
	if e.hooks.OnStep == nil {
		return
	}
	e.hooks.OnStep(ctx, &domain.StepEvent{
		EventBase: e.eventBase(domain.EventStep, t.req.TenantID, t.sess.ID),
		NodeID:    res.nodeID,
		NodeType:  res.nodeType,
		Step:      t.steps,
		NextID:    res.next,
	})
}

func (e *Engine) emitCheckpoint(ctx context.Context, t *tick, diff *domain.SessionDiff) {
	if e.hooks.OnCheckpoint == nil {
		return
	}
	e.hooks.OnCheckpoint(ctx, &domain.CheckpointEvent{
		EventBase: e.eventBase(domain.EventCheckpoint, t.req.TenantID, t.sess.ID),
		Diff:      diff,
	})
}

func (e *Engine) emitSkip(ctx context.Context, tenantID, sessionID string) {
	if e.hooks.OnSkip == nil {
		return
	}
	base := e.eventBase(domain.EventSkip, tenantID, sessionID)
	e.hooks.OnSkip(ctx, &base)
}
