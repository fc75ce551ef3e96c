package domain

import "time"

// SessionStatus is the persisted lifecycle status of a session.
type SessionStatus string

const (
	StatusInitiated SessionStatus = "INITIATED"
	StatusActive    SessionStatus = "ACTIVE"
	StatusExpired   SessionStatus = "EXPIRED"
	StatusCompleted SessionStatus = "COMPLETED"
)

// Open reports whether a session in this status can still receive events.
func (s SessionStatus) Open() bool {
	return s == StatusInitiated || s == StatusActive
}

// SessionStage is the finer grained conversational stage.
type SessionStage string

const (
	StageInitiated  SessionStage = "INITIATED"
	StageInProgress SessionStage = "IN_PROGRESS"
	StageMenu       SessionStage = "MENU"
	StageCompleted  SessionStage = "COMPLETED"
	StageExpired    SessionStage = "EXPIRED"
	StageClosed     SessionStage = "CLOSED"
)

// Session is the mutable conversation state for one (tenant, channel, phone).
// All mutation goes through a ports.SessionStore.
type Session struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	ChannelID   string `json:"channel_id"`
	PhoneNumber string `json:"phone_number"`
	FlowID      string `json:"flow_id,omitempty"`

	// CurrentNodeID is empty when the previous tick stalled.
	CurrentNodeID string `json:"current_node_id,omitempty"`
	// CurrentMenuKey is the MENU node the user is looking at.
	CurrentMenuKey string   `json:"current_menu_key,omitempty"`
	MenuStack      []string `json:"menu_stack,omitempty"`

	Vars map[string]any `json:"vars"`

	Status SessionStatus `json:"status"`
	Stage  SessionStage  `json:"stage"`

	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	LastEventID  string    `json:"last_event_id,omitempty"`

	// StepCounter counts steps across the lifetime of the session.
	StepCounter  int       `json:"step_counter"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewSession builds a fresh INITIATED session.
func NewSession(id, tenantID, channelID, phone string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:           id,
		TenantID:     tenantID,
		ChannelID:    channelID,
		PhoneNumber:  phone,
		Vars:         make(map[string]any),
		Status:       StatusInitiated,
		Stage:        StageInitiated,
		ExpiresAt:    now.Add(ttl),
		LastActivity: now,
		CreatedAt:    now,
	}
}

// IsExpired reports whether the session TTL has elapsed at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Clone returns a deep copy so callers can hand out snapshots without aliasing.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Vars = CloneVars(s.Vars)
	if s.MenuStack != nil {
		c.MenuStack = append([]string(nil), s.MenuStack...)
	}
	return &c
}

// CloneVars deep copies nested maps and slices of a vars map.
func CloneVars(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneVars(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = cloneValue(t[i])
		}
		return s
	default:
		return v
	}
}

// Checkpoint is the set of fields persisted after every step.
// LastActivity is owned by the CAS touch and is never written here.
type Checkpoint struct {
	NextNodeID   string         `json:"next_node_id"`
	Vars         map[string]any `json:"vars"`
	LastEventID  string         `json:"last_event_id,omitempty"`
	Status       SessionStatus  `json:"status"`
	Stage        SessionStage   `json:"stage"`
	MenuKey      string         `json:"menu_key,omitempty"`
	MenuStack    []string       `json:"menu_stack,omitempty"`
	StepCounter  int            `json:"step_counter"`
	MessageCount int            `json:"message_count"`
	ExpiresAt    time.Time      `json:"expires_at"`
	FlowID       string         `json:"flow_id,omitempty"`
}

// Apply writes the checkpoint fields onto s.
func (c Checkpoint) Apply(s *Session) {
	s.CurrentNodeID = c.NextNodeID
	s.Vars = CloneVars(c.Vars)
	s.LastEventID = c.LastEventID
	s.Status = c.Status
	s.Stage = c.Stage
	s.CurrentMenuKey = c.MenuKey
	if c.MenuStack != nil {
		s.MenuStack = append([]string(nil), c.MenuStack...)
	} else {
		s.MenuStack = nil
	}
	s.StepCounter = c.StepCounter
	s.MessageCount = c.MessageCount
	s.ExpiresAt = c.ExpiresAt
	if c.FlowID != "" {
		s.FlowID = c.FlowID
	}
}
