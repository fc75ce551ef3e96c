// Package cli builds engines from process configuration for the tendril commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/pkg/adapters/cache"
	"github.com/aretw0/tendril/pkg/adapters/file"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/adapters/redis"
	"github.com/aretw0/tendril/pkg/adapters/sqlstore"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/aretw0/tendril/pkg/ports"
)

// Runtime is an engine plus the resources that back it.
type Runtime struct {
	Engine *tendril.Engine
	// Purger is nil when the session store cannot purge.
	Purger ports.SessionPurger

	closers []func() error
}

// Close releases store connections.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type backends struct {
	sessions ports.SessionStore
	flows    ports.FlowStore
	config   ports.ConfigProvider
	closers  []func() error
}

// BuildEngine wires stores, middleware and caching from cfg.
func BuildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...tendril.Option) (*Runtime, error) {
	b, err := openBackends(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{closers: b.closers}

	// 1. Flows: a flows directory wins over the storage driver
	flows := b.flows
	if cfg.Flows.Dir != "" {
		fs, err := file.NewFlowStore(cfg.Flows.Dir)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		logger.Info("Serving flows from directory", "dir", cfg.Flows.Dir, "tenants", len(fs.Tenants()))
		flows = fs
	}
	if cfg.Engine.FlowCacheTTL > 0 {
		flows = cache.NewFlowStore(flows, cfg.Engine.FlowCacheTTL)
	}

	// 2. Sessions, wrapped by masking then encryption
	sessions, err := wrapSessions(b.sessions, cfg.Security)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if _, ok := b.sessions.(ports.SessionPurger); ok {
		rt.Purger, _ = sessions.(ports.SessionPurger)
	}

	opts := []tendril.Option{
		tendril.WithFlowStore(flows),
		tendril.WithSessionStore(sessions),
		tendril.WithLogger(logger),
		tendril.WithMaxStepsPerTick(cfg.Engine.MaxStepsPerTick),
		tendril.WithSessionTTL(cfg.Engine.SessionTTL),
	}
	if b.config != nil {
		opts = append(opts, tendril.WithConfigProvider(b.config))
	}
	opts = append(opts, extra...)

	engine, err := tendril.New(opts...)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	rt.Engine = engine
	return rt, nil
}

func openBackends(ctx context.Context, sc config.StorageConfig) (*backends, error) {
	switch sc.Driver {
	case config.DriverMemory, "":
		flows, err := memory.NewFlowStore()
		if err != nil {
			return nil, err
		}
		return &backends{sessions: memory.NewStore(), flows: flows}, nil

	case config.DriverFile:
		flows, err := memory.NewFlowStore()
		if err != nil {
			return nil, err
		}
		return &backends{sessions: file.New(sc.DSN), flows: flows}, nil

	case config.DriverRedis:
		client := redis.NewClient(sc.RedisAddr, sc.RedisPassword, sc.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", sc.RedisAddr, err)
		}
		opts := []redis.Option{redis.WithPrefix(sc.RedisPrefix)}
		return &backends{
			sessions: redis.NewFromClient(client, opts...),
			flows:    redis.NewFlowStore(client, opts...),
			config:   redis.NewConfigStore(client, opts...),
			closers:  []func() error{client.Close},
		}, nil

	case config.DriverPostgres, config.DriverSQLite:
		dialect, err := sqlstore.ParseDialect(sc.Driver)
		if err != nil {
			return nil, err
		}
		store, err := sqlstore.Open(dialect, sc.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Initialize(ctx); err != nil {
			_ = store.Disconnect()
			return nil, err
		}
		return &backends{
			sessions: store,
			flows:    store,
			config:   store,
			closers:  []func() error{store.Disconnect},
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
}

func wrapSessions(store ports.SessionStore, sc config.SecurityConfig) (ports.SessionStore, error) {
	var mws []middleware.Middleware

	if len(sc.MaskVars) > 0 {
		pii, err := middleware.NewPIIMiddleware(sc.MaskVars)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}

	if sc.EncryptionKey != "" {
		active, err := middleware.ParseKey(sc.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("security.encryption_key: %w", err)
		}
		encCfg := middleware.EncryptionConfig{ActiveKey: active}
		for _, k := range sc.FallbackKeys {
			key, err := middleware.ParseKey(k)
			if err != nil {
				return nil, fmt.Errorf("security.fallback_keys: %w", err)
			}
			encCfg.FallbackKeys = append(encCfg.FallbackKeys, key)
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(encCfg))
	}

	return middleware.Chain(store, mws...), nil
}
