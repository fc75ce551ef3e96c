// Package sqlstore implements the session, flow and config ports on
// database/sql. PostgreSQL (lib/pq) is the production target; SQLite
// (modernc.org/sqlite) serves embedded deployments and tests.
//
// Timestamps are stored as BIGINT unix nanoseconds and documents (vars, menu
// stack, flow definitions, config values) as JSON text so the schema is
// portable across both engines.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and connection tuning.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a storage driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported sql driver %q", driver)
}

// Store implements ports.SessionStore, ports.SessionPurger, ports.FlowStore,
// ports.FlowPublisher and ports.ConfigProvider.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock injects the time source used for new sessions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to dsn and verifies the connection.
func Open(dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}
	return New(db, dialect, opts...), nil
}

// New wraps an existing handle.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	if dialect == SQLite {
		// SQLite only supports one writer at a time; an in-memory database
		// also lives on a single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	s := &Store{db: db, dialect: dialect, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize creates the tables and indexes. It is idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Disconnect closes the database handle.
func (s *Store) Disconnect() error {
	return s.db.Close()
}

// q rewrites ? placeholders for the dialect.
func (s *Store) q(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tendril_sessions (
		id               TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL,
		channel_id       TEXT NOT NULL,
		phone_number     TEXT NOT NULL,
		flow_id          TEXT NOT NULL DEFAULT '',
		current_node_id  TEXT NOT NULL DEFAULT '',
		current_menu_key TEXT NOT NULL DEFAULT '',
		menu_stack       TEXT NOT NULL DEFAULT '[]',
		vars             TEXT NOT NULL DEFAULT '{}',
		status           TEXT NOT NULL,
		stage            TEXT NOT NULL,
		expires_at       BIGINT NOT NULL,
		last_activity    BIGINT NOT NULL,
		last_event_id    TEXT NOT NULL DEFAULT '',
		step_counter     INTEGER NOT NULL DEFAULT 0,
		message_count    INTEGER NOT NULL DEFAULT 0,
		created_at       BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tendril_sessions_open
		ON tendril_sessions (tenant_id, channel_id, phone_number)
		WHERE status IN ('INITIATED', 'ACTIVE')`,
	`CREATE INDEX IF NOT EXISTS tendril_sessions_expires_at ON tendril_sessions (expires_at)`,
	`CREATE TABLE IF NOT EXISTS tendril_flows (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		name        TEXT NOT NULL,
		category    TEXT NOT NULL DEFAULT '',
		version     INTEGER NOT NULL,
		active      BOOLEAN NOT NULL,
		is_default  BOOLEAN NOT NULL,
		definition  TEXT NOT NULL,
		created_at  BIGINT NOT NULL,
		UNIQUE (tenant_id, name, version)
	)`,
	`CREATE INDEX IF NOT EXISTS tendril_flows_active ON tendril_flows (tenant_id, active, is_default, category)`,
	`CREATE TABLE IF NOT EXISTS tendril_tenant_configurations (
		tenant_id  TEXT NOT NULL,
		config_key TEXT NOT NULL,
		value      TEXT NOT NULL,
		PRIMARY KEY (tenant_id, config_key)
	)`,
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
