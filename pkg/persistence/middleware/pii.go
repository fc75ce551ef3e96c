package middleware

import (
	"context"
	"regexp"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// MaskedValue replaces every var whose key matches a mask pattern.
const MaskedValue = "***"

type piiMiddleware struct {
	next     ports.SessionStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks vars whose key matches one
// of the patterns before they are persisted. Masked vars are lost for later
// ticks, so only mask keys a flow never reads back.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns[i] = re
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Checkpoint(ctx context.Context, tenantID, sessionID string, cp domain.Checkpoint) error {
	// the engine keeps using its own copy
	cp.Vars = domain.CloneVars(cp.Vars)
	maskMap(cp.Vars, m.patterns)
	return m.next.Checkpoint(ctx, tenantID, sessionID, cp)
}

func (m *piiMiddleware) GetOrCreate(ctx context.Context, tenantID, channelID, phone string, ttl time.Duration) (*domain.Session, error) {
	return m.next.GetOrCreate(ctx, tenantID, channelID, phone, ttl)
}

func (m *piiMiddleware) Latest(ctx context.Context, tenantID, channelID, phone string) (*domain.Session, error) {
	return m.next.Latest(ctx, tenantID, channelID, phone)
}

func (m *piiMiddleware) CompareAndSetTouch(ctx context.Context, tenantID, sessionID string, expected, next time.Time) (bool, error) {
	return m.next.CompareAndSetTouch(ctx, tenantID, sessionID, expected, next)
}

func (m *piiMiddleware) Close(ctx context.Context, tenantID, sessionID string) error {
	return m.next.Close(ctx, tenantID, sessionID)
}

func (m *piiMiddleware) Expire(ctx context.Context, tenantID, sessionID string) error {
	return m.next.Expire(ctx, tenantID, sessionID)
}

func (m *piiMiddleware) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	return m.next.Get(ctx, tenantID, sessionID)
}

func (m *piiMiddleware) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return purge(ctx, m.next, cutoff)
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = MaskedValue
				break
			}
		}

		if subMap, ok := v.(map[string]any); ok && m[k] != MaskedValue {
			maskMap(subMap, patterns)
		}
	}
}
