// Package janitor periodically deletes sessions whose expiry is long past.
//
// Expired sessions are already rejected by the engine; purging only reclaims
// storage. The retention window keeps recent expirations around so a late
// event still gets the "session expired" reply instead of a fresh session.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/robfig/cron/v3"
)

// Defaults used when the options are left empty.
const (
	DefaultSchedule  = "@every 5m"
	DefaultRetention = 24 * time.Hour
)

// Janitor runs PurgeBefore on a cron schedule.
type Janitor struct {
	purger    ports.SessionPurger
	schedule  string
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures the Janitor.
type Option func(*Janitor)

// WithSchedule sets the cron schedule ("@every 10m", "0 3 * * *").
func WithSchedule(schedule string) Option {
	return func(j *Janitor) {
		if schedule != "" {
			j.schedule = schedule
		}
	}
}

// WithRetention sets how long expired sessions are kept.
func WithRetention(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.retention = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Janitor) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// New builds a Janitor. It does nothing until Start.
func New(purger ports.SessionPurger, opts ...Option) *Janitor {
	j := &Janitor{
		purger:    purger,
		schedule:  DefaultSchedule,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RunOnce purges every session that expired before now minus the retention.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	n, err := j.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge failed: %w", err)
	}
	if n > 0 {
		j.logger.Info("Purged expired sessions", "count", n, "cutoff", cutoff)
	} else {
		j.logger.Debug("No expired sessions to purge", "cutoff", cutoff)
	}
	return n, nil
}

// Start schedules RunOnce. Each run gets ctx; cancelling it stops the
// scheduler.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return errors.New("janitor already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("Janitor run failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.schedule, err)
	}
	c.Start()
	j.cron = c
	j.logger.Info("Janitor started", "schedule", j.schedule, "retention", j.retention)

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running purge to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
