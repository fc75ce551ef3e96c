package domain

// ActionType identifies an outbound instruction for the host.
type ActionType string

const (
	// ActionSendMessage asks the host to deliver Content to To.
	ActionSendMessage ActionType = "SEND_MESSAGE"
	// ActionSetVar reports the variables assigned during the tick.
	ActionSetVar ActionType = "SET_VAR"
	// ActionEnd signals the conversation terminated.
	ActionEnd ActionType = "END"
)

// OutboundAction is a side effect produced by the engine and executed by the host.
// The engine itself never sends anything.
type OutboundAction struct {
	Type        ActionType     `json:"type"`
	To          string         `json:"to,omitempty"`
	Content     string         `json:"content,omitempty"`
	Assignments map[string]any `json:"assignments,omitempty"`
}

// SendMessage builds a SEND_MESSAGE action.
func SendMessage(to, content string) OutboundAction {
	return OutboundAction{Type: ActionSendMessage, To: to, Content: content}
}

// SetVar builds a SET_VAR action.
func SetVar(assignments map[string]any) OutboundAction {
	return OutboundAction{Type: ActionSetVar, Assignments: assignments}
}

// End builds an END action.
func End() OutboundAction {
	return OutboundAction{Type: ActionEnd}
}

// TriggerRequest is one inbound event.
type TriggerRequest struct {
	TenantID  string         `json:"tenant_id"`
	ChannelID string         `json:"channel_id"`
	Phone     string         `json:"phone"`
	Payload   map[string]any `json:"payload,omitempty"`
	// EventID is optional. When set it drives last-event idempotency.
	EventID string `json:"event_id,omitempty"`
	// Category optionally narrows which default flow is selected.
	Category string `json:"category,omitempty"`
}

// Text returns payload.text as a string, or "" when absent.
func (r TriggerRequest) Text() string {
	if r.Payload == nil {
		return ""
	}
	if s, ok := r.Payload["text"].(string); ok {
		return s
	}
	return ""
}

// TriggerResult is the outcome of one tick.
type TriggerResult struct {
	SessionID string `json:"session_id"`
	// Outbound holds the SEND_MESSAGE actions for the delivery gateway.
	Outbound []OutboundAction `json:"outbound"`
	// Actions is every step action in order, SET_VAR and END included.
	Actions []OutboundAction `json:"actions"`
	Ended   bool             `json:"ended"`
	Skipped bool             `json:"skipped"`
}

// Messages returns the contents of the SEND_MESSAGE actions in order.
func (r *TriggerResult) Messages() []string {
	var out []string
	for _, a := range r.Outbound {
		if a.Type == ActionSendMessage {
			out = append(out, a.Content)
		}
	}
	return out
}

// ActionRequest is handed to an ActionRouter when a menu option names an action.
type ActionRequest struct {
	Action    string
	TenantID  string
	SessionID string
	Phone     string
	Vars      map[string]any
	Config    map[string]any
}
