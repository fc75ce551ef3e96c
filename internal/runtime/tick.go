package runtime

import (
	"context"
	"log/slog"

	"github.com/aretw0/tendril/pkg/domain"
)

// tick is the working state of one Trigger call. It is owned by the caller
// that won the compare-and-set and is discarded afterwards.
type tick struct {
	e    *Engine
	req  domain.TriggerRequest
	flow *domain.Flow
	sess *domain.Session
	cfg  map[string]any
	log  *slog.Logger

	vars      map[string]any
	menuKey   string
	menuStack []string

	// messages is the session message_count once this event is counted.
	messages int
	steps    int
	outbound []domain.OutboundAction
	actions  []domain.OutboundAction
	ended    bool
}

// stepResult is the outcome of evaluating one node.
type stepResult struct {
	nodeID   string
	nodeType domain.NodeType
	actions  []domain.OutboundAction
	next     string
	ended    bool
	// waiting stops the tick on a MENU until the next event.
	waiting bool
	// closed marks a user requested exit.
	closed bool
}

func newTick(e *Engine, req domain.TriggerRequest, flow *domain.Flow, sess *domain.Session, cfg map[string]any, log *slog.Logger) *tick {
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	req.Payload = payload
	return &tick{
		e:         e,
		req:       req,
		flow:      flow,
		sess:      sess,
		cfg:       cfg,
		log:       log,
		vars:      domain.CloneVars(sess.Vars),
		menuKey:   sess.CurrentMenuKey,
		menuStack: append([]string(nil), sess.MenuStack...),
		messages:  sess.MessageCount + 1,
		outbound:  []domain.OutboundAction{},
		actions:   []domain.OutboundAction{},
	}
}

// evalContext is rebuilt for every node so each step sees the latest vars.
func (t *tick) evalContext() domain.EvalContext {
	return domain.EvalContext{Payload: t.req.Payload, Vars: t.vars, Config: t.cfg}
}

func (t *tick) run(ctx context.Context) error {
	nodeID := t.sess.CurrentNodeID
	if nodeID == "" {
		nodeID = t.flow.StartNodeID
	}

	if t.sess.Stage == domain.StageMenu && t.menuKey != "" {
		res, err := t.interpretMenu(ctx)
		if err != nil {
			return err
		}
		if err := t.commit(ctx, res); err != nil {
			return err
		}
		if res.closed {
			if err := t.e.sessions.Close(ctx, t.sess); err != nil {
				return err
			}
			t.ended = true
			return nil
		}
		if res.next == "" || res.waiting {
			return nil
		}
		nodeID = res.next
	}

	for t.steps < t.e.maxSteps {
		node, ok := t.flow.Node(nodeID)
		if !ok {
			return &domain.FlowDefinitionError{FlowID: t.flow.ID, NodeID: nodeID, Reason: "node missing"}
		}

		res, err := t.evaluate(ctx, node)
		if err != nil {
			return err
		}
		if err := t.commit(ctx, res); err != nil {
			return err
		}

		if res.ended {
			t.ended = true
			return nil
		}
		if res.waiting {
			return nil
		}
		if res.next == "" {
			t.log.Debug("Tick stalled", "node_id", node.ID, "node_type", node.Type)
			return nil
		}
		nodeID = res.next
	}

	return &domain.GuardExceededError{SessionID: t.sess.ID, Steps: t.steps}
}

// commit appends the step's actions and persists the checkpoint.
func (t *tick) commit(ctx context.Context, res stepResult) error {
	t.steps++
	t.actions = append(t.actions, res.actions...)
	for _, a := range res.actions {
		if a.Type == domain.ActionSendMessage {
			t.outbound = append(t.outbound, a)
		}
	}

	cp := domain.Checkpoint{
		NextNodeID:   res.next,
		Vars:         domain.CloneVars(t.vars),
		LastEventID:  t.req.EventID,
		Status:       domain.StatusActive,
		Stage:        domain.StageInProgress,
		MenuKey:      t.menuKey,
		MenuStack:    append([]string(nil), t.menuStack...),
		StepCounter:  t.sess.StepCounter + 1,
		MessageCount: t.messages,
		ExpiresAt:    t.e.sessions.RefreshedExpiry(),
		FlowID:       t.flow.ID,
	}
	switch {
	case res.ended:
		cp.Status = domain.StatusCompleted
		cp.Stage = domain.StageCompleted
		cp.ExpiresAt = t.sess.ExpiresAt
	case res.closed:
		cp.Status = domain.StatusCompleted
		cp.Stage = domain.StageClosed
		cp.ExpiresAt = t.sess.ExpiresAt
	case res.waiting:
		cp.Stage = domain.StageMenu
	}

	before := t.sess.Clone()
	if err := t.e.sessions.Checkpoint(ctx, t.sess, cp); err != nil {
		return err
	}

	t.log.Debug("Step",
		"node_id", res.nodeID,
		"node_type", res.nodeType,
		"step", t.steps,
		"next", res.next,
	)
	t.e.emitStep(ctx, t, res)
	t.e.emitCheckpoint(ctx, t, domain.Diff(before, cp, t.sess.ID))
	return nil
}
