package sqlstore_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/sqlstore"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := sqlstore.New(db, sqlstore.SQLite)
	require.NoError(t, store.Initialize(context.Background()))
	return store
}

func TestSQLStore_SessionContract(t *testing.T) {
	ports.RunSessionStoreContract(t, newStore(t))
}

func TestSQLStore_FlowContract(t *testing.T) {
	ports.RunFlowStoreContract(t, newStore(t))
}

func TestSQLStore_InitializeIsIdempotent(t *testing.T) {
	store := newStore(t)
	assert.NoError(t, store.Initialize(context.Background()))
}

func TestSQLStore_FlowDemotionPersists(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	base := &domain.Flow{
		TenantID: "acme", Name: "welcome", Category: "clinic", Active: true, Default: true,
		StartNodeID: "start",
		Nodes: map[string]*domain.Node{
			"start": {ID: "start", Type: domain.NodeStart, Next: "end"},
			"end":   {ID: "end", Type: domain.NodeEnd},
		},
	}
	v1, err := store.Publish(ctx, base)
	require.NoError(t, err)

	other := base.Clone()
	other.Name = "promo"
	promo, err := store.Publish(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, promo.Version, "versions are per name")

	active, err := store.GetActiveFlow(ctx, "acme", domain.FlowFilter{Category: "clinic"})
	require.NoError(t, err)
	assert.Equal(t, promo.ID, active.ID)
	assert.NotEqual(t, v1.ID, active.ID)

	var defaults int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM tendril_flows WHERE is_default = ?`, true).Scan(&defaults))
	assert.Equal(t, 1, defaults)
}

func TestSQLStore_Config(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	empty, err := store.GetConfigMap(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.SetConfig(ctx, "acme", map[string]any{"hours": "9-5", "slots": 2}))
	require.NoError(t, store.SetConfig(ctx, "acme", map[string]any{"hours": "24/7"}))
	_, err = store.DB().Exec(`INSERT INTO tendril_tenant_configurations (tenant_id, config_key, value) VALUES ('acme', 'raw', 'not json')`)
	require.NoError(t, err)

	cfg, err := store.GetConfigMap(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"hours": "24/7", "slots": float64(2), "raw": "not json"}, cfg)

	other, err := store.GetConfigMap(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLStore_CheckpointKeepsFlowID(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	s, err := store.GetOrCreate(ctx, "acme", "web", "+1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Checkpoint(ctx, "acme", s.ID, domain.Checkpoint{FlowID: "f1", Status: domain.StatusActive, Stage: domain.StageInProgress}))
	require.NoError(t, store.Checkpoint(ctx, "acme", s.ID, domain.Checkpoint{Status: domain.StatusActive, Stage: domain.StageInProgress}))

	got, err := store.Get(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, "f1", got.FlowID)
	assert.Nil(t, got.MenuStack)
	assert.NotNil(t, got.Vars)
}

func TestParseDialect(t *testing.T) {
	d, err := sqlstore.ParseDialect("postgresql")
	require.NoError(t, err)
	assert.Equal(t, sqlstore.Postgres, d)

	d, err = sqlstore.ParseDialect("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, sqlstore.SQLite, d)

	_, err = sqlstore.ParseDialect("oracle")
	assert.Error(t, err)
}
