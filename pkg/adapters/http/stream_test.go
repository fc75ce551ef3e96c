package http_test

import (
	"testing"

	tendrilhttp "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamManager(t *testing.T) {
	sm := tendrilhttp.NewStreamManager(nil)
	a, cancelA := sm.Subscribe("acme", "s1")
	b, cancelB := sm.Subscribe("acme", "s1")
	other, cancelOther := sm.Subscribe("globex", "s1")
	defer cancelOther()

	sm.Broadcast("acme", "s1", "diff-1")
	assert.Equal(t, "diff-1", <-a)
	assert.Equal(t, "diff-1", <-b)
	assert.Empty(t, other)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	// full buffers drop instead of blocking
	for i := 0; i < 20; i++ {
		sm.Broadcast("acme", "s1", "flood")
	}
	assert.Len(t, b, 10)

	cancelB()
	require.NotPanics(t, func() { sm.Broadcast("acme", "s1", "after") })
}
