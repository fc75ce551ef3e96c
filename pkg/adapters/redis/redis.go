// Package redis provides Redis backed session, flow and config stores.
//
// Keys are namespaced by a prefix and the tenant id:
//
//	{prefix}{tenant}:session:{id}                 HASH  data, last_activity
//	{prefix}{tenant}:current:{channel}:{phone}    STRING newest session id
//	{prefix}{tenant}:flows                        HASH  flow id -> JSON
//	{prefix}{tenant}:config                       HASH  key -> JSON value
//	{prefix}sessions:expiry                       ZSET  session key by expires_at
package redis

import (
	"time"

	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "tendril:"

// maxTxRetries bounds optimistic WATCH/MULTI retries.
const maxTxRetries = 8

type options struct {
	prefix string
	now    func() time.Time
}

// Option configures the Redis stores.
type Option func(*options)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithClock injects the time source used for new sessions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient creates a go-redis client.
func NewClient(address, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}
