package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTrigger    EventType = "trigger"
	EventStep       EventType = "step"
	EventCheckpoint EventType = "checkpoint"
	EventSkip       EventType = "skip"
	EventError      EventType = "error"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	TenantID  string    `json:"tenant_id"`
	SessionID string    `json:"session_id"`
}

// TriggerEvent is emitted once per accepted inbound event.
type TriggerEvent struct {
	EventBase
	FlowID    string `json:"flow_id"`
	EventID   string `json:"event_id,omitempty"`
	ChannelID string `json:"channel_id"`
}

// StepEvent represents the evaluation of a single node.
type StepEvent struct {
	EventBase
	NodeID   string   `json:"node_id"`
	NodeType NodeType `json:"node_type"`
	Step     int      `json:"step"`
	NextID   string   `json:"next_id,omitempty"`
}

// CheckpointEvent carries the persisted delta after a step.
type CheckpointEvent struct {
	EventBase
	Diff *SessionDiff `json:"diff,omitempty"`
}

// ErrorEvent is emitted when a tick aborts.
type ErrorEvent struct {
	EventBase
	Err error `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Every field is optional.
type LifecycleHooks struct {
	OnTrigger    func(context.Context, *TriggerEvent)
	OnStep       func(context.Context, *StepEvent)
	OnCheckpoint func(context.Context, *CheckpointEvent)
	OnSkip       func(context.Context, *EventBase)
	OnError      func(context.Context, *ErrorEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnTrigger:    chain(h.OnTrigger, other.OnTrigger),
		OnStep:       chain(h.OnStep, other.OnStep),
		OnCheckpoint: chain(h.OnCheckpoint, other.OnCheckpoint),
		OnSkip:       chain(h.OnSkip, other.OnSkip),
		OnError:      chain(h.OnError, other.OnError),
	}
}

func chain[T any](a, b func(context.Context, T)) func(context.Context, T) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, ev T) {
		a(ctx, ev)
		b(ctx, ev)
	}
}
