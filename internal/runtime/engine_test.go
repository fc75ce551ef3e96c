package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloFlow = `
name: hello
tenant_id: acme
industry_type: clinic
nodes:
  start: {type: START, next: hi}
  hi: {type: MESSAGE, text: "Hi {{payload.name}}", next: set}
  set: {type: SET_VAR, assign: {step: 1}, next: end}
  end: {type: END}
`

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine   *runtime.Engine
	sessions *memory.Store
	flows    *memory.FlowStore
	clock    *fakeClock
}

func newHarness(t *testing.T, src string, opts ...runtime.Option) *harness {
	t.Helper()
	flow, err := compiler.NewParser().ParseString(src)
	require.NoError(t, err)

	flows, err := memory.NewFlowStore(flow)
	require.NoError(t, err)

	clock := newClock()
	sessions := memory.NewStore(memory.WithClock(clock.Now))
	opts = append([]runtime.Option{
		runtime.WithClock(clock.Now),
		runtime.WithSessionTTL(10 * time.Minute),
	}, opts...)

	return &harness{
		engine:   runtime.NewEngine(flows, sessions, opts...),
		sessions: sessions,
		flows:    flows,
		clock:    clock,
	}
}

func (h *harness) send(t *testing.T, text, eventID string) *domain.TriggerResult {
	t.Helper()
	res, err := h.trigger(text, eventID)
	require.NoError(t, err)
	return res
}

func (h *harness) trigger(text, eventID string) (*domain.TriggerResult, error) {
	return h.engine.Trigger(context.Background(), domain.TriggerRequest{
		TenantID:  "acme",
		ChannelID: "whatsapp",
		Phone:     "+5511999990000",
		Payload:   map[string]any{"text": text},
		EventID:   eventID,
	})
}

func (h *harness) session(t *testing.T, id string) *domain.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), "acme", id)
	require.NoError(t, err)
	return s
}

func TestEngine_RunsToEnd(t *testing.T) {
	h := newHarness(t, helloFlow)

	res, err := h.engine.Trigger(context.Background(), domain.TriggerRequest{
		TenantID:  "acme",
		ChannelID: "whatsapp",
		Phone:     "+5511999990000",
		Payload:   map[string]any{"text": "hello", "name": "Ana"},
		EventID:   "evt-1",
	})
	require.NoError(t, err)

	assert.True(t, res.Ended)
	assert.False(t, res.Skipped)
	assert.Equal(t, []domain.OutboundAction{domain.SendMessage("+5511999990000", "Hi Ana")}, res.Outbound)
	require.Len(t, res.Actions, 3)
	assert.Equal(t, res.Outbound[0], res.Actions[0])
	assert.Equal(t, domain.ActionSetVar, res.Actions[1].Type)
	assert.EqualValues(t, 1, res.Actions[1].Assignments["step"])
	assert.Equal(t, domain.ActionEnd, res.Actions[2].Type)

	s := h.session(t, res.SessionID)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, domain.StageCompleted, s.Stage)
	assert.Equal(t, 4, s.StepCounter)
	assert.Equal(t, 1, s.MessageCount)
	assert.Equal(t, "evt-1", s.LastEventID)
	assert.EqualValues(t, 1, s.Vars["step"])
	assert.NotEmpty(t, s.FlowID)

	// A completed session is not reused.
	next := h.send(t, "again", "evt-2")
	assert.NotEqual(t, res.SessionID, next.SessionID)
}

func TestEngine_MissingTemplateValueRendersEmpty(t *testing.T) {
	h := newHarness(t, helloFlow)
	res := h.send(t, "hello", "")
	assert.Equal(t, []string{"Hi "}, res.Messages())
}

func TestEngine_InvalidEvent(t *testing.T) {
	h := newHarness(t, helloFlow)
	_, err := h.engine.Trigger(context.Background(), domain.TriggerRequest{TenantID: "acme", ChannelID: "whatsapp"})
	assert.True(t, errors.Is(err, domain.ErrInvalidEvent))
}

func TestEngine_DuplicateEventSkipped(t *testing.T) {
	h := newHarness(t, menuFlow)

	first := h.send(t, "hi", "evt-1")
	require.NotEmpty(t, first.Outbound)
	before := h.session(t, first.SessionID)

	h.clock.Advance(time.Second)
	dup := h.send(t, "hi", "evt-1")
	assert.True(t, dup.Skipped)
	assert.Empty(t, dup.Outbound)
	assert.NotNil(t, dup.Outbound)
	assert.Equal(t, first.SessionID, dup.SessionID)

	after := h.session(t, first.SessionID)
	assert.Equal(t, before, after, "a skipped event writes nothing")
}

func TestEngine_DuplicateAfterEndSkipped(t *testing.T) {
	h := newHarness(t, helloFlow)

	first := h.send(t, "hello", "evt-1")
	require.True(t, first.Ended)
	before := h.session(t, first.SessionID)

	dup := h.send(t, "hello", "evt-1")
	assert.True(t, dup.Skipped)
	assert.Empty(t, dup.Outbound)
	assert.Empty(t, dup.Actions)
	assert.Equal(t, first.SessionID, dup.SessionID)
	assert.Equal(t, before, h.session(t, first.SessionID))

	ids, err := h.sessions.List(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, ids, 1, "no session is opened for the redelivery")

	// a new event still starts a new session
	next := h.send(t, "hello", "evt-2")
	assert.False(t, next.Skipped)
	assert.NotEqual(t, first.SessionID, next.SessionID)
}

func TestEngine_RedeliveryAfterExpiryOpensNewSession(t *testing.T) {
	h := newHarness(t, menuFlow)

	first := h.send(t, "hi", "evt-1")
	h.clock.Advance(11 * time.Minute)

	_, err := h.trigger("1", "evt-2")
	require.True(t, errors.Is(err, domain.ErrSessionExpired))

	again := h.send(t, "1", "evt-2")
	assert.False(t, again.Skipped)
	assert.NotEqual(t, first.SessionID, again.SessionID)
}

func TestEngine_StepGuard(t *testing.T) {
	const loop = `
tenant_id: acme
start: start
nodes:
  start: {type: START, next: a}
  a: {type: BRANCH, edges: [{next: b}]}
  b: {type: BRANCH, edges: [{next: a}]}
`
	h := newHarness(t, loop, runtime.WithMaxStepsPerTick(5))
	assert.Equal(t, 5, h.engine.MaxStepsPerTick())

	_, err := h.trigger("x", "evt-1")
	require.Error(t, err)
	var guard *domain.GuardExceededError
	require.True(t, errors.As(err, &guard))
	assert.Equal(t, 5, guard.Steps)
	assert.True(t, errors.Is(err, domain.ErrGuardExceeded))
}

func TestEngine_StepGuardExactBudget(t *testing.T) {
	// START, MESSAGE, SET_VAR, END is four steps.
	h := newHarness(t, helloFlow, runtime.WithMaxStepsPerTick(4))
	res := h.send(t, "x", "evt-1")
	assert.True(t, res.Ended)
}

func TestEngine_BranchOrder(t *testing.T) {
	const branchy = `
tenant_id: acme
nodes:
  start: {type: START, next: pick}
  pick:
    type: BRANCH
    edges:
      - {next: low}
      - {when: "payload.n > 1", next: big}
      - {when: "payload.n > 0", next: small}
  big: {type: MESSAGE, text: big, next: done}
  small: {type: MESSAGE, text: small, next: done}
  low: {type: MESSAGE, text: low, next: done}
  done: {type: END}
`
	cases := []struct {
		n    any
		want string
	}{
		{float64(5), "big"},
		{1, "small"},
		{0, "low"},
		{"oops", "low"},
		{nil, "low"},
	}
	for _, tc := range cases {
		h := newHarness(t, branchy)
		res, err := h.engine.Trigger(context.Background(), domain.TriggerRequest{
			TenantID: "acme", ChannelID: "web", Phone: "+1",
			Payload: map[string]any{"n": tc.n},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{tc.want}, res.Messages(), "n=%v", tc.n)
	}
}

func TestEngine_StallRestartsFromStart(t *testing.T) {
	const stall = `
tenant_id: acme
nodes:
  start: {type: START, next: hi}
  hi: {type: MESSAGE, text: "Hello"}
`
	h := newHarness(t, stall)

	first := h.send(t, "a", "evt-1")
	assert.False(t, first.Ended)
	assert.Equal(t, []string{"Hello"}, first.Messages())

	s := h.session(t, first.SessionID)
	assert.Empty(t, s.CurrentNodeID)
	assert.Equal(t, domain.StatusActive, s.Status)

	h.clock.Advance(time.Second)
	second := h.send(t, "b", "evt-2")
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, []string{"Hello"}, second.Messages())
	assert.Equal(t, 2, h.session(t, first.SessionID).MessageCount)
}

func TestEngine_ResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, helloFlow)

	s, err := h.sessions.GetOrCreate(ctx, "acme", "whatsapp", "+5511999990000", 10*time.Minute)
	require.NoError(t, err)
	require.NoError(t, h.sessions.Checkpoint(ctx, "acme", s.ID, domain.Checkpoint{
		NextNodeID:  "set",
		Vars:        map[string]any{"seen": true},
		Status:      domain.StatusActive,
		Stage:       domain.StageInProgress,
		StepCounter: 2,
		ExpiresAt:   h.clock.Now().Add(10 * time.Minute),
	}))

	h.clock.Advance(time.Second)
	res := h.send(t, "x", "evt-9")
	assert.Equal(t, s.ID, res.SessionID)
	assert.Empty(t, res.Messages(), "the greeting was already sent before the crash")
	assert.True(t, res.Ended)

	got := h.session(t, s.ID)
	assert.Equal(t, true, got.Vars["seen"])
	assert.Equal(t, 4, got.StepCounter)
}

func TestEngine_MissingNodeIsDefinitionError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, helloFlow)

	s, err := h.sessions.GetOrCreate(ctx, "acme", "whatsapp", "+5511999990000", 10*time.Minute)
	require.NoError(t, err)
	require.NoError(t, h.sessions.Checkpoint(ctx, "acme", s.ID, domain.Checkpoint{
		NextNodeID: "ghost",
		Status:     domain.StatusActive,
		Stage:      domain.StageInProgress,
		ExpiresAt:  h.clock.Now().Add(10 * time.Minute),
	}))

	h.clock.Advance(time.Second)
	_, err = h.trigger("x", "evt-1")
	var def *domain.FlowDefinitionError
	require.True(t, errors.As(err, &def))
	assert.Equal(t, "ghost", def.NodeID)
}

func TestEngine_NoFlow(t *testing.T) {
	flows, err := memory.NewFlowStore()
	require.NoError(t, err)
	e := runtime.NewEngine(flows, memory.NewStore())

	_, err = e.Trigger(context.Background(), domain.TriggerRequest{TenantID: "nobody", ChannelID: "c", Phone: "p"})
	assert.True(t, errors.Is(err, domain.ErrFlowDefinition))

	_, err = e.Inspect(context.Background(), "nobody")
	assert.True(t, errors.Is(err, domain.ErrFlowDefinition))
}

func TestEngine_CategoryFallback(t *testing.T) {
	h := newHarness(t, helloFlow)

	res, err := h.engine.Trigger(context.Background(), domain.TriggerRequest{
		TenantID: "acme", ChannelID: "whatsapp", Phone: "+1",
		Category: "retail",
	})
	require.NoError(t, err)
	assert.True(t, res.Ended)

	flow, err := h.engine.Inspect(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "hello", flow.Name)
}

func TestEngine_SessionExpiry(t *testing.T) {
	h := newHarness(t, menuFlow)

	first := h.send(t, "hi", "evt-1")
	h.clock.Advance(11 * time.Minute)

	_, err := h.trigger("1", "evt-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSessionExpired))
	assert.Equal(t, domain.StatusExpired, h.session(t, first.SessionID).Status)

	fresh := h.send(t, "hi", "evt-3")
	assert.NotEqual(t, first.SessionID, fresh.SessionID)
	assert.Equal(t, []string{mainPrompt}, fresh.Messages())
}

// barrierStore lets a fixed number of callers read the session before any of
// them is allowed to continue, forcing them to race on the same snapshot.
type barrierStore struct {
	*memory.Store
	wg sync.WaitGroup
}

func (b *barrierStore) GetOrCreate(ctx context.Context, tenantID, channelID, phone string, ttl time.Duration) (*domain.Session, error) {
	s, err := b.Store.GetOrCreate(ctx, tenantID, channelID, phone, ttl)
	b.wg.Done()
	b.wg.Wait()
	return s, err
}

func TestEngine_ConcurrentTriggersSingleWinner(t *testing.T) {
	flow, err := compiler.NewParser().ParseString(menuFlow)
	require.NoError(t, err)
	flows, err := memory.NewFlowStore(flow)
	require.NoError(t, err)

	clock := newClock()
	inner := memory.NewStore(memory.WithClock(clock.Now))
	_, err = inner.GetOrCreate(context.Background(), "acme", "whatsapp", "+1", 10*time.Minute)
	require.NoError(t, err)

	store := &barrierStore{Store: inner}
	store.wg.Add(2)
	e := runtime.NewEngine(flows, store, runtime.WithClock(clock.Now), runtime.WithSessionTTL(10*time.Minute))

	errs := make(chan error, 2)
	for _, id := range []string{"a", "b"} {
		go func(id string) {
			_, err := e.Trigger(context.Background(), domain.TriggerRequest{
				TenantID: "acme", ChannelID: "whatsapp", Phone: "+1",
				Payload: map[string]any{"text": "hi"},
				EventID: id,
			})
			errs <- err
		}(id)
	}

	var ok, locked int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrOptimisticLock):
			locked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, locked)
}

func TestEngine_Hooks(t *testing.T) {
	var mu sync.Mutex
	counts := map[domain.EventType]int{}
	var diffs []*domain.SessionDiff
	record := func(typ domain.EventType) {
		mu.Lock()
		counts[typ]++
		mu.Unlock()
	}

	h := newHarness(t, helloFlow, runtime.WithLifecycleHooks(domain.LifecycleHooks{
		OnTrigger: func(_ context.Context, ev *domain.TriggerEvent) {
			record(ev.Type)
			assert.Equal(t, "evt-1", ev.EventID)
		},
		OnStep: func(_ context.Context, ev *domain.StepEvent) { record(ev.Type) },
		OnCheckpoint: func(_ context.Context, ev *domain.CheckpointEvent) {
			record(ev.Type)
			mu.Lock()
			diffs = append(diffs, ev.Diff)
			mu.Unlock()
		},
		OnSkip:  func(_ context.Context, ev *domain.EventBase) { record(ev.Type) },
		OnError: func(_ context.Context, ev *domain.ErrorEvent) { record(ev.Type) },
	}))

	h.send(t, "x", "evt-1")
	assert.Equal(t, 1, counts[domain.EventTrigger])
	assert.Equal(t, 4, counts[domain.EventStep])
	assert.Equal(t, 4, counts[domain.EventCheckpoint])
	require.Len(t, diffs, 4)
	require.NotNil(t, diffs[3].Status)
	assert.Equal(t, domain.StatusCompleted, *diffs[3].Status)

	_, err := h.engine.Trigger(context.Background(), domain.TriggerRequest{TenantID: "acme"})
	require.Error(t, err)
	assert.Equal(t, 1, counts[domain.EventError])
}
