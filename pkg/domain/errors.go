package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFlowDefinition is matched by every FlowDefinitionError.
	ErrFlowDefinition = errors.New("flow definition error")

	// ErrGuardExceeded is matched by every GuardExceededError.
	ErrGuardExceeded = errors.New("step budget exceeded")

	// ErrSessionExpired is matched by every SessionExpiredError.
	ErrSessionExpired = errors.New("session expired")

	// ErrOptimisticLock is matched by every OptimisticLockError.
	ErrOptimisticLock = errors.New("optimistic lock conflict")

	// ErrFlowNotFound is returned by a FlowStore when a tenant has no active flow.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrSessionNotFound is returned when a session ID cannot be found in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidEvent is returned when an inbound event lacks tenant, channel or phone.
	ErrInvalidEvent = errors.New("invalid event")
)

// FlowDefinitionError signals a missing flow, a missing node or a malformed graph.
type FlowDefinitionError struct {
	FlowID string
	NodeID string
	Reason string
}

func (e *FlowDefinitionError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("flow definition error: flow %q node %q: %s", e.FlowID, e.NodeID, e.Reason)
	case e.FlowID != "":
		return fmt.Sprintf("flow definition error: flow %q: %s", e.FlowID, e.Reason)
	default:
		return "flow definition error: " + e.Reason
	}
}

func (e *FlowDefinitionError) Is(target error) bool { return target == ErrFlowDefinition }

// GuardExceededError is returned when a tick runs out of steps without reaching END.
type GuardExceededError struct {
	SessionID string
	Steps     int
}

func (e *GuardExceededError) Error() string {
	return fmt.Sprintf("session %s exceeded %d steps without terminating", e.SessionID, e.Steps)
}

func (e *GuardExceededError) Is(target error) bool { return target == ErrGuardExceeded }

// SessionExpiredError is returned when an event reaches a session past its TTL.
type SessionExpiredError struct {
	SessionID string
	ExpiredAt time.Time
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session %s expired at %s", e.SessionID, e.ExpiredAt.UTC().Format(time.RFC3339))
}

func (e *SessionExpiredError) Is(target error) bool { return target == ErrSessionExpired }

// OptimisticLockError is returned when the last_activity CAS loses a race.
type OptimisticLockError struct {
	SessionID string
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("session %s was modified concurrently", e.SessionID)
}

func (e *OptimisticLockError) Is(target error) bool { return target == ErrOptimisticLock }

// ErrorKind is a coarse label for a Trigger failure, stable enough for
// metrics and transport status mapping.
type ErrorKind string

const (
	KindInvalidEvent   ErrorKind = "invalid_event"
	KindExpired        ErrorKind = "expired"
	KindOptimisticLock ErrorKind = "optimistic_lock"
	KindDefinition     ErrorKind = "definition"
	KindGuard          ErrorKind = "guard"
	KindInternal       ErrorKind = "internal"
)

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidEvent):
		return KindInvalidEvent
	case errors.Is(err, ErrSessionExpired):
		return KindExpired
	case errors.Is(err, ErrOptimisticLock):
		return KindOptimisticLock
	case errors.Is(err, ErrFlowDefinition):
		return KindDefinition
	case errors.Is(err, ErrGuardExceeded):
		return KindGuard
	default:
		return KindInternal
	}
}
