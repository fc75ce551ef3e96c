package actions

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// Built-in action names.
const (
	ShowHours       = "SHOW_HOURS"
	ShowContact     = "SHOW_CONTACT"
	ConnectAgent    = "CONNECT_AGENT"
	Help            = "HELP"
	BookAppointment = "BOOK_APPOINTMENT"
)

// NewDefaultRegistry returns a registry with the built-in actions.
// They make no external calls. SHOW_HOURS and SHOW_CONTACT prefer the
// tenant config keys "hours" and "contact" when set.
func NewDefaultRegistry(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	r.Register(ShowHours, configOr("hours", "Hours: Mon-Sat 9:00-18:00, Sun closed."))
	r.Register(ShowContact, configOr("contact", "Contact: reply 'HELP' for assistance."))
	r.Register(ConnectAgent, static("Connecting you to an agent. Please wait..."))
	r.Register(Help, static("Send 1/2/3 to choose options. Try 'back', 'main', or 'exit'."))
	r.Register(BookAppointment, static("To book, please share preferred day and time. An agent will confirm."))
	return r
}

func static(reply string) ActionFunc {
	return func(context.Context, domain.ActionRequest) (string, error) {
		return reply, nil
	}
}

func configOr(key, fallback string) ActionFunc {
	return func(_ context.Context, req domain.ActionRequest) (string, error) {
		if v, ok := req.Config[key].(string); ok && v != "" {
			return v, nil
		}
		return fallback, nil
	}
}
