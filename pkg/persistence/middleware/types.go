// Package middleware wraps a ports.SessionStore to change how session vars
// are persisted without touching the engine.
package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/tendril/pkg/ports"
)

// Middleware allows wrapping a SessionStore to add behavior.
type Middleware func(ports.SessionStore) ports.SessionStore

// ErrPurgeUnsupported is returned by PurgeBefore when the wrapped store
// does not implement ports.SessionPurger.
var ErrPurgeUnsupported = errors.New("wrapped session store does not support purging")

// Chain applies middlewares so that the first one is the outermost.
func Chain(store ports.SessionStore, mws ...Middleware) ports.SessionStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}

func purge(ctx context.Context, next ports.SessionStore, cutoff time.Time) (int, error) {
	p, ok := next.(ports.SessionPurger)
	if !ok {
		return 0, ErrPurgeUnsupported
	}
	return p.PurgeBefore(ctx, cutoff)
}
