package domain

import (
	"reflect"
)

// SessionDiff represents the changes a checkpoint made to a session.
// It is designed to be serialized to JSON for audit and streaming consumers.
type SessionDiff struct {
	// SessionID is always present to identify the target.
	SessionID string `json:"session_id"`

	CurrentNodeID *string        `json:"current_node_id,omitempty"`
	Status        *SessionStatus `json:"status,omitempty"`
	Stage         *SessionStage  `json:"stage,omitempty"`
	MenuKey       *string        `json:"menu_key,omitempty"`

	// Vars contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	Vars map[string]any `json:"vars,omitempty"`
}

// Diff calculates the difference between a session and the checkpoint applied to it.
// If old is nil, the diff represents the whole checkpoint.
func Diff(old *Session, cp Checkpoint, sessionID string) *SessionDiff {
	diff := &SessionDiff{SessionID: sessionID}

	if old == nil || old.CurrentNodeID != cp.NextNodeID {
		next := cp.NextNodeID
		diff.CurrentNodeID = &next
	}
	if old == nil || old.Status != cp.Status {
		st := cp.Status
		diff.Status = &st
	}
	if old == nil || old.Stage != cp.Stage {
		sg := cp.Stage
		diff.Stage = &sg
	}
	if old == nil || old.CurrentMenuKey != cp.MenuKey {
		mk := cp.MenuKey
		diff.MenuKey = &mk
	}

	var oldVars map[string]any
	if old != nil {
		oldVars = old.Vars
	}
	diff.Vars = diffVars(oldVars, cp.Vars)

	return diff
}

func diffVars(old, new map[string]any) map[string]any {
	delta := make(map[string]any)

	for k, newVal := range new {
		oldVal, exists := old[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}

	for k := range old {
		if _, exists := new[k]; !exists {
			delta[k] = nil
		}
	}

	// nil lets omitempty drop the key
	if len(delta) == 0 {
		return nil
	}
	return delta
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *SessionDiff) IsEmpty() bool {
	return d.CurrentNodeID == nil &&
		d.Status == nil &&
		d.Stage == nil &&
		d.MenuKey == nil &&
		len(d.Vars) == 0
}
