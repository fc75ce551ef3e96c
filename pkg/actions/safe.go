package actions

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

type safeRouter struct {
	next ports.ActionRouter
}

// Safe wraps a router so a panic or a blank reply becomes FallbackReply.
func Safe(router ports.ActionRouter) ports.ActionRouter {
	if s, ok := router.(safeRouter); ok {
		return s
	}
	return safeRouter{next: router}
}

func (s safeRouter) Handle(ctx context.Context, req domain.ActionRequest) (reply string) {
	defer func() {
		if rec := recover(); rec != nil {
			reply = FallbackReply
		}
	}()
	reply = s.next.Handle(ctx, req)
	if isBlank(reply) {
		return FallbackReply
	}
	return reply
}
