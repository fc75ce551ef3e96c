package ports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	tenant := func(name string) string { return "contract-" + name + "-" + suffix }
	ttl := 30 * time.Minute

	t.Run("GetOrCreate", func(t *testing.T) {
		tid := tenant("create")
		before := time.Now().Add(-time.Second)

		s, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550001", ttl)
		require.NoError(t, err)
		require.NotEmpty(t, s.ID)
		assert.Equal(t, tid, s.TenantID)
		assert.Equal(t, "whatsapp", s.ChannelID)
		assert.Equal(t, "+15550001", s.PhoneNumber)
		assert.Equal(t, domain.StatusInitiated, s.Status)
		assert.NotNil(t, s.Vars)
		assert.Empty(t, s.Vars)
		assert.True(t, s.ExpiresAt.After(before.Add(ttl)), "expires_at should be now + ttl")

		again, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550001", ttl)
		require.NoError(t, err)
		assert.Equal(t, s.ID, again.ID, "open session should be reused")

		other, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550002", ttl)
		require.NoError(t, err)
		assert.NotEqual(t, s.ID, other.ID)

		otherChannel, err := store.GetOrCreate(ctx, tid, "sms", "+15550001", ttl)
		require.NoError(t, err)
		assert.NotEqual(t, s.ID, otherChannel.ID)
	})

	t.Run("Tenant Isolation", func(t *testing.T) {
		a, err := store.GetOrCreate(ctx, tenant("iso-a"), "whatsapp", "+15550003", ttl)
		require.NoError(t, err)
		b, err := store.GetOrCreate(ctx, tenant("iso-b"), "whatsapp", "+15550003", ttl)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)

		_, err = store.Get(ctx, tenant("iso-b"), a.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		ok, err := store.CompareAndSetTouch(ctx, tenant("iso-b"), a.ID, a.LastActivity, a.LastActivity.Add(time.Millisecond))
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		} else {
			assert.False(t, ok, "touch across tenants must not succeed")
		}
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, tenant("missing"), "non-existent")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("CompareAndSetTouch", func(t *testing.T) {
		tid := tenant("cas")
		s, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550004", ttl)
		require.NoError(t, err)

		next := s.LastActivity.Add(5 * time.Millisecond)
		ok, err := store.CompareAndSetTouch(ctx, tid, s.ID, s.LastActivity, next)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.CompareAndSetTouch(ctx, tid, s.ID, s.LastActivity, next.Add(time.Millisecond))
		require.NoError(t, err)
		assert.False(t, ok, "stale expectation must lose")

		loaded, err := store.Get(ctx, tid, s.ID)
		require.NoError(t, err)
		assert.True(t, loaded.LastActivity.Equal(next), "last_activity = %s, want %s", loaded.LastActivity, next)
	})

	t.Run("Concurrent Touch Has One Winner", func(t *testing.T) {
		tid := tenant("race")
		s, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550005", ttl)
		require.NoError(t, err)

		const workers = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := store.CompareAndSetTouch(ctx, tid, s.ID, s.LastActivity, s.LastActivity.Add(time.Duration(i+1)*time.Millisecond))
				if err == nil && ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("Checkpoint", func(t *testing.T) {
		tid := tenant("checkpoint")
		s, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550006", ttl)
		require.NoError(t, err)

		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
		cp := domain.Checkpoint{
			NextNodeID:   "ask_name",
			Vars:         map[string]any{"name": "Ana", "vip": true, "score": float64(42), "nested": map[string]any{"k": "v"}},
			LastEventID:  "evt-1",
			Status:       domain.StatusActive,
			Stage:        domain.StageMenu,
			MenuKey:      "main_menu",
			MenuStack:    []string{"root"},
			StepCounter:  3,
			MessageCount: 1,
			ExpiresAt:    expires,
			FlowID:       "flow-1",
		}
		require.NoError(t, store.Checkpoint(ctx, tid, s.ID, cp))

		loaded, err := store.Get(ctx, tid, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "ask_name", loaded.CurrentNodeID)
		assert.Equal(t, "Ana", loaded.Vars["name"])
		assert.Equal(t, true, loaded.Vars["vip"])
		assert.Equal(t, float64(42), loaded.Vars["score"])
		assert.Equal(t, map[string]any{"k": "v"}, loaded.Vars["nested"])
		assert.Equal(t, "evt-1", loaded.LastEventID)
		assert.Equal(t, domain.StatusActive, loaded.Status)
		assert.Equal(t, domain.StageMenu, loaded.Stage)
		assert.Equal(t, "main_menu", loaded.CurrentMenuKey)
		assert.Equal(t, []string{"root"}, loaded.MenuStack)
		assert.Equal(t, 3, loaded.StepCounter)
		assert.Equal(t, 1, loaded.MessageCount)
		assert.Equal(t, "flow-1", loaded.FlowID)
		assert.True(t, loaded.ExpiresAt.Equal(expires))
		assert.True(t, loaded.LastActivity.Equal(s.LastActivity), "checkpoint must not touch last_activity")

		again, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550006", ttl)
		require.NoError(t, err)
		assert.Equal(t, s.ID, again.ID, "active session should be reused")
	})

	t.Run("Checkpoint Non-Existent", func(t *testing.T) {
		err := store.Checkpoint(ctx, tenant("checkpoint-missing"), "non-existent", domain.Checkpoint{Status: domain.StatusActive})
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Close", func(t *testing.T) {
		tid := tenant("close")
		s, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550007", ttl)
		require.NoError(t, err)
		require.NoError(t, store.Close(ctx, tid, s.ID))

		loaded, err := store.Get(ctx, tid, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, loaded.Status)
		assert.Equal(t, domain.StageClosed, loaded.Stage)

		fresh, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550007", ttl)
		require.NoError(t, err)
		assert.NotEqual(t, s.ID, fresh.ID, "closed session must not be reused")
	})

	t.Run("Expire", func(t *testing.T) {
		tid := tenant("expire")
		s, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550008", ttl)
		require.NoError(t, err)
		require.NoError(t, store.Expire(ctx, tid, s.ID))

		loaded, err := store.Get(ctx, tid, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusExpired, loaded.Status)
		assert.Equal(t, domain.StageExpired, loaded.Stage)

		fresh, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550008", ttl)
		require.NoError(t, err)
		assert.NotEqual(t, s.ID, fresh.ID)
	})

	t.Run("Latest Includes Ended Sessions", func(t *testing.T) {
		tid := tenant("latest")
		_, err := store.Latest(ctx, tid, "whatsapp", "+15550010")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		s, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550010", ttl)
		require.NoError(t, err)
		latest, err := store.Latest(ctx, tid, "whatsapp", "+15550010")
		require.NoError(t, err)
		assert.Equal(t, s.ID, latest.ID)

		require.NoError(t, store.Checkpoint(ctx, tid, s.ID, domain.Checkpoint{
			Vars: map[string]any{}, LastEventID: "evt-end", Status: domain.StatusCompleted,
			Stage: domain.StageCompleted, ExpiresAt: s.ExpiresAt, StepCounter: 1,
		}))
		latest, err = store.Latest(ctx, tid, "whatsapp", "+15550010")
		require.NoError(t, err)
		assert.Equal(t, s.ID, latest.ID, "a completed session is still the latest")
		assert.Equal(t, domain.StatusCompleted, latest.Status)
		assert.Equal(t, "evt-end", latest.LastEventID)

		_, err = store.Latest(ctx, tenant("latest-other"), "whatsapp", "+15550010")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "latest is tenant scoped")

		fresh, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550010", ttl)
		require.NoError(t, err)
		require.NotEqual(t, s.ID, fresh.ID)
		latest, err = store.Latest(ctx, tid, "whatsapp", "+15550010")
		require.NoError(t, err)
		assert.Equal(t, fresh.ID, latest.ID)
	})

	t.Run("Elapsed Open Session Is Returned", func(t *testing.T) {
		tid := tenant("elapsed")
		s, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550009", ttl)
		require.NoError(t, err)

		past := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
		require.NoError(t, store.Checkpoint(ctx, tid, s.ID, domain.Checkpoint{
			NextNodeID: "n", Vars: map[string]any{}, Status: domain.StatusActive,
			Stage: domain.StageInProgress, ExpiresAt: past,
		}))

		again, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550009", ttl)
		require.NoError(t, err)
		assert.Equal(t, s.ID, again.ID, "expiry is decided by the caller, not the store")
		assert.True(t, again.IsExpired(time.Now()))
	})

	if purger, ok := store.(SessionPurger); ok {
		t.Run("PurgeBefore", func(t *testing.T) {
			tid := tenant("purge")
			done, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550010", ttl)
			require.NoError(t, err)
			require.NoError(t, store.Checkpoint(ctx, tid, done.ID, domain.Checkpoint{
				Vars: map[string]any{}, Status: domain.StatusCompleted, Stage: domain.StageCompleted,
				ExpiresAt: time.Now().Add(-2 * time.Hour),
			}))
			live, err := store.GetOrCreate(ctx, tid, "whatsapp", "+15550011", ttl)
			require.NoError(t, err)

			n, err := purger.PurgeBefore(ctx, time.Now().Add(-time.Hour))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, 1)

			_, err = store.Get(ctx, tid, done.ID)
			assert.ErrorIs(t, err, domain.ErrSessionNotFound)
			_, err = store.Get(ctx, tid, live.ID)
			assert.NoError(t, err)
		})
	}
}

// FlowRepository is a FlowStore that accepts published versions.
type FlowRepository interface {
	FlowStore
	FlowPublisher
}

// RunFlowStoreContract verifies versioning, default selection and tenant scoping.
func RunFlowStoreContract(t *testing.T, store FlowRepository) {
	ctx := context.Background()
	tid := "contract-flows-" + time.Now().Format("20060102150405.000000000")

	newFlow := func(tenant, name, category string) *domain.Flow {
		return &domain.Flow{
			TenantID:    tenant,
			Name:        name,
			Category:    category,
			Active:      true,
			Default:     true,
			StartNodeID: "start",
			Nodes: map[string]*domain.Node{
				"start": {ID: "start", Type: domain.NodeStart, Next: "bye"},
				"bye":   {ID: "bye", Type: domain.NodeEnd},
			},
		}
	}

	t.Run("Not Found", func(t *testing.T) {
		_, err := store.GetActiveFlow(ctx, tid+"-empty", domain.FlowFilter{})
		assert.True(t, errors.Is(err, domain.ErrFlowNotFound), "got %v", err)
	})

	t.Run("Publish Assigns Versions", func(t *testing.T) {
		v1, err := store.Publish(ctx, newFlow(tid, "welcome", "clinic"))
		require.NoError(t, err)
		require.NotEmpty(t, v1.ID)
		assert.Equal(t, 1, v1.Version)

		v2, err := store.Publish(ctx, newFlow(tid, "welcome", "clinic"))
		require.NoError(t, err)
		assert.Equal(t, 2, v2.Version)
		assert.NotEqual(t, v1.ID, v2.ID)

		active, err := store.GetActiveFlow(ctx, tid, domain.FlowFilter{})
		require.NoError(t, err)
		assert.Equal(t, v2.ID, active.ID)
		assert.Equal(t, 2, active.Version)
		require.Contains(t, active.Nodes, "start")
		assert.Equal(t, domain.NodeStart, active.Nodes["start"].Type)
		assert.Equal(t, "bye", active.Nodes["start"].Next)
	})

	t.Run("Category Filter", func(t *testing.T) {
		ctid := tid + "-cat"
		clinic, err := store.Publish(ctx, newFlow(ctid, "clinic", "clinic"))
		require.NoError(t, err)
		salon, err := store.Publish(ctx, newFlow(ctid, "salon", "salon"))
		require.NoError(t, err)

		got, err := store.GetActiveFlow(ctx, ctid, domain.FlowFilter{Category: "clinic"})
		require.NoError(t, err)
		assert.Equal(t, clinic.ID, got.ID)

		got, err = store.GetActiveFlow(ctx, ctid, domain.FlowFilter{Category: "salon"})
		require.NoError(t, err)
		assert.Equal(t, salon.ID, got.ID)

		_, err = store.GetActiveFlow(ctx, ctid, domain.FlowFilter{Category: "gym"})
		assert.ErrorIs(t, err, domain.ErrFlowNotFound)
	})

	t.Run("Inactive Or Non-Default Is Ignored", func(t *testing.T) {
		itid := tid + "-inactive"
		f := newFlow(itid, "draft", "")
		f.Active = false
		_, err := store.Publish(ctx, f)
		require.NoError(t, err)

		g := newFlow(itid, "side", "")
		g.Default = false
		_, err = store.Publish(ctx, g)
		require.NoError(t, err)

		_, err = store.GetActiveFlow(ctx, itid, domain.FlowFilter{})
		assert.ErrorIs(t, err, domain.ErrFlowNotFound)
	})

	t.Run("Tenant Isolation", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			_, err := store.Publish(ctx, newFlow(fmt.Sprintf("%s-iso-%d", tid, i), "welcome", ""))
			require.NoError(t, err)
		}
		a, err := store.GetActiveFlow(ctx, tid+"-iso-0", domain.FlowFilter{})
		require.NoError(t, err)
		b, err := store.GetActiveFlow(ctx, tid+"-iso-1", domain.FlowFilter{})
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
		assert.Equal(t, tid+"-iso-0", a.TenantID)
		assert.Equal(t, 1, b.Version)
	})
}
