package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/tendril/pkg/adapters/file"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const welcomeYAML = `
name: welcome
category: clinic
start_node_id: start
nodes:
  start:
    type: START
    next: hello
  hello:
    type: MESSAGE
    text: "Hello!"
    next: bye
  bye:
    type: END
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestFlowStore_Contract(t *testing.T) {
	store, err := file.NewFlowStore(t.TempDir())
	require.NoError(t, err)
	ports.RunFlowStoreContract(t, store)
}

func TestFlowStore_LoadsTenantDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme", "welcome.yaml"), welcomeYAML)
	writeFile(t, filepath.Join(dir, "acme", "README.md"), "ignored")
	writeFile(t, filepath.Join(dir, "globex", "welcome.yml"), welcomeYAML)

	store, err := file.NewFlowStore(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, store.Tenants())

	flow, err := store.GetActiveFlow(context.Background(), "acme", domain.FlowFilter{Category: "clinic"})
	require.NoError(t, err)
	assert.Equal(t, "acme", flow.TenantID)
	assert.Equal(t, "acme/welcome", flow.ID)
	assert.Equal(t, 1, flow.Version)

	_, err = store.GetActiveFlow(context.Background(), "initech", domain.FlowFilter{})
	assert.ErrorIs(t, err, domain.ErrFlowNotFound)
}

func TestFlowStore_RejectsForeignTenant(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme", "welcome.yaml"), "tenant_id: globex\n"+welcomeYAML)

	_, err := file.NewFlowStore(dir)
	var defErr *domain.FlowDefinitionError
	assert.ErrorAs(t, err, &defErr)
}

func TestFlowStore_RejectsInvalidFlow(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme", "broken.yaml"), `
start_node_id: start
nodes:
  start:
    type: START
    next: nowhere
`)

	_, err := file.NewFlowStore(dir)
	assert.Error(t, err)
}

func TestFlowStore_PublishPersists(t *testing.T) {
	dir := t.TempDir()
	store, err := file.NewFlowStore(dir)
	require.NoError(t, err)

	flow := &domain.Flow{
		TenantID:    "acme",
		Name:        "welcome",
		Active:      true,
		Default:     true,
		StartNodeID: "start",
		Nodes: map[string]*domain.Node{
			"start": {ID: "start", Type: domain.NodeStart, Next: "bye"},
			"bye":   {ID: "bye", Type: domain.NodeEnd},
		},
	}
	published, err := store.Publish(context.Background(), flow)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "acme", "welcome.v1.json"))
	require.NoError(t, err)

	reopened, err := file.NewFlowStore(dir)
	require.NoError(t, err)
	got, err := reopened.GetActiveFlow(context.Background(), "acme", domain.FlowFilter{})
	require.NoError(t, err)
	assert.Equal(t, published.ID, got.ID)
	assert.Equal(t, 1, got.Version)
}

func TestFlowStore_MissingDirectory(t *testing.T) {
	store, err := file.NewFlowStore(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, store.Tenants())
}
