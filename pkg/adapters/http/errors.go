package http

import (
	"net/http"

	"github.com/aretw0/tendril/pkg/domain"
)

// Fallback replies sent in place of the flow's answer. They never carry
// error details.
const (
	ReplyExpired = "Your session has expired. Send a new message to start over."
	ReplyBusy    = "We are still working on your previous message. Please try again in a moment."
	ReplyFailure = "Sorry, something went wrong on our side. Please try again later."
)

// Classify maps a Trigger error to an HTTP status and a safe reply.
func Classify(err error) (int, string) {
	switch domain.KindOf(err) {
	case "":
		return http.StatusOK, ""
	case domain.KindInvalidEvent:
		return http.StatusBadRequest, ""
	case domain.KindExpired:
		return http.StatusGone, ReplyExpired
	case domain.KindOptimisticLock:
		return http.StatusConflict, ReplyBusy
	case domain.KindDefinition, domain.KindGuard:
		return http.StatusUnprocessableEntity, ReplyFailure
	default:
		return http.StatusInternalServerError, ReplyFailure
	}
}
