package guest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aadi/tabletsync/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInjector struct {
	mu    sync.Mutex
	calls []Order
	err   error
}

func (f *fakeInjector) Inject(_ context.Context, o Order) (contracts.InjectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, o)
	if f.err != nil {
		return contracts.InjectResponse{}, f.err
	}
	return contracts.InjectResponse{OK: true, ID: o.ID}, nil
}

func (f *fakeInjector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestMachine(t *testing.T, inj Injector) *Machine {
	t.Helper()
	m := NewMachine(NewFileStore(t.TempDir(), ""), inj)
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	m.Now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	n := 0
	m.NewID = func() string {
		n++
		return "G1772388000-" + strconv.Itoa(n)
	}
	m.KnownRestaurant = DemoDirectory().Known
	return m
}

var tacos = []CartItem{{ItemID: "carnitas", Name: "Carnitas Taco", PriceCents: 450, Qty: 2}}

func TestLifecycle_DraftStageFire(t *testing.T) {
	inj := &fakeInjector{}
	m := newTestMachine(t, inj)
	ctx := context.Background()

	draft, err := m.SaveCart(ctx, "taco-town", tacos)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, draft.State)
	assert.Equal(t, DefaultArrivalPlan(), draft.ArrivalPlan)
	assert.False(t, draft.Location.Enabled)
	assert.Equal(t, 900, draft.Cart.TotalCents())

	again, err := m.SaveCart(ctx, "taco-town", append(tacos, CartItem{ItemID: "soda", Name: "Mexican Soda", PriceCents: 320, Qty: 1}))
	require.NoError(t, err)
	assert.Equal(t, draft.ID, again.ID, "re-saving keeps the order id")
	assert.Len(t, again.Cart.Items, 2)

	staged, err := m.Stage(ctx, "taco-town", StageOptions{Plan: ArrivalPlan{Mode: ArrivalModeETA, ETAMinutes: 15}, PartySize: 3})
	require.NoError(t, err)
	assert.Equal(t, StateStaged, staged.State)
	assert.Equal(t, 15, staged.ArrivalPlan.ETAMinutes)

	res, err := m.Fire(ctx, "taco-town")
	require.NoError(t, err)
	require.NoError(t, res.InjectErr)
	assert.Equal(t, StateFired, res.Order.State)
	require.NotNil(t, res.Order.FiredAt)
	assert.Equal(t, 1, inj.count())
	assert.Equal(t, 3, inj.calls[0].PartySize)

	stored, err := m.Get(ctx, "taco-town")
	require.NoError(t, err)
	types := make([]string, 0, len(stored.Events))
	for _, e := range stored.Events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{EventDraftSaved, EventDraftSaved, EventStaged, EventFired, EventInjected}, types)
}

func TestStage_EmptyCartLeavesDraftUntouched(t *testing.T) {
	m := newTestMachine(t, &fakeInjector{})
	ctx := context.Background()

	_, err := m.SaveCart(ctx, "taco-town", nil)
	require.NoError(t, err)

	_, err = m.Stage(ctx, "taco-town", StageOptions{})
	require.ErrorIs(t, err, ErrEmptyCart)

	stored, err := m.Get(ctx, "taco-town")
	require.NoError(t, err)
	assert.Equal(t, StateDraft, stored.State)
	assert.False(t, stored.HasEvent(EventStaged))
}

func TestStage_ClampsETA(t *testing.T) {
	m := newTestMachine(t, &fakeInjector{})
	ctx := context.Background()
	_, err := m.SaveCart(ctx, "taco-town", tacos)
	require.NoError(t, err)

	o, err := m.Stage(ctx, "taco-town", StageOptions{Plan: ArrivalPlan{Mode: ArrivalModeETA, ETAMinutes: 240}})
	require.NoError(t, err)
	assert.Equal(t, 60, o.ArrivalPlan.ETAMinutes)

	o, err = m.Stage(ctx, "taco-town", StageOptions{Plan: ArrivalPlan{Mode: ArrivalModeLocation, ETAMinutes: -3}, LocationEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, 1, o.ArrivalPlan.ETAMinutes)
	assert.Equal(t, ArrivalModeLocation, o.ArrivalPlan.Mode)
	assert.True(t, o.Location.Enabled)
}

func TestFire_OnlyOnce(t *testing.T) {
	inj := &fakeInjector{}
	m := newTestMachine(t, inj)
	ctx := context.Background()
	_, err := m.SaveCart(ctx, "taco-town", tacos)
	require.NoError(t, err)
	_, err = m.Stage(ctx, "taco-town", StageOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Fire(ctx, "taco-town")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyFired)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, inj.count())
}

func TestFire_InjectionFailureStaysFired(t *testing.T) {
	inj := &fakeInjector{err: errors.New("inject failed: HTTP 503")}
	m := newTestMachine(t, inj)
	ctx := context.Background()
	_, _ = m.SaveCart(ctx, "taco-town", tacos)
	_, _ = m.Stage(ctx, "taco-town", StageOptions{})

	res, err := m.Fire(ctx, "taco-town")
	require.NoError(t, err)
	require.ErrorIs(t, res.InjectErr, ErrInjectionFailed)

	stored, err := m.Get(ctx, "taco-town")
	require.NoError(t, err)
	assert.Equal(t, StateFired, stored.State)
	assert.True(t, stored.HasEvent(EventInjectFailed))

	_, err = m.Fire(ctx, "taco-town")
	assert.ErrorIs(t, err, ErrAlreadyFired)
	assert.Equal(t, 1, inj.count(), "no automatic retry")
}

func TestTransitionsAreForwardOnly(t *testing.T) {
	m := newTestMachine(t, &fakeInjector{})
	ctx := context.Background()

	_, err := m.Fire(ctx, "taco-town")
	assert.ErrorIs(t, err, ErrNoOrder)

	_, _ = m.SaveCart(ctx, "taco-town", tacos)
	_, err = m.Fire(ctx, "taco-town")
	assert.ErrorIs(t, err, ErrNotStaged)

	_, _ = m.Stage(ctx, "taco-town", StageOptions{})
	_, err = m.SaveCart(ctx, "taco-town", tacos)
	assert.ErrorIs(t, err, ErrNotDraft)

	_, err = m.Fire(ctx, "taco-town")
	require.NoError(t, err)
	_, err = m.Stage(ctx, "taco-town", StageOptions{})
	assert.ErrorIs(t, err, ErrAlreadyFired)
}

func TestReset_StartsOver(t *testing.T) {
	m := newTestMachine(t, &fakeInjector{})
	ctx := context.Background()
	first, _ := m.SaveCart(ctx, "taco-town", tacos)
	_, _ = m.Stage(ctx, "taco-town", StageOptions{})
	_, _ = m.Fire(ctx, "taco-town")

	require.NoError(t, m.Reset(ctx, "taco-town"))
	_, err := m.Get(ctx, "taco-town")
	require.ErrorIs(t, err, ErrNoOrder)

	next, err := m.SaveCart(ctx, "taco-town", tacos)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, StateDraft, next.State)
}

func TestUnknownRestaurantAndInvalidCart(t *testing.T) {
	m := newTestMachine(t, &fakeInjector{})
	ctx := context.Background()

	_, err := m.SaveCart(ctx, "burger-barn", tacos)
	assert.ErrorIs(t, err, ErrUnknownRestaurant)

	_, err = m.SaveCart(ctx, "taco-town", []CartItem{{Name: "Taco", Qty: 0}})
	assert.ErrorIs(t, err, ErrInvalidCart)
	_, err = m.SaveCart(ctx, "taco-town", []CartItem{{Name: "Taco", Qty: 1, PriceCents: -1}})
	assert.ErrorIs(t, err, ErrInvalidCart)

	_, err = m.Get(ctx, "taco-town")
	assert.ErrorIs(t, err, ErrNoOrder, "rejected saves must not create an order")
}

func TestEffectiveState(t *testing.T) {
	ready := &contracts.Order{Status: contracts.StatusReady}
	preparing := &contracts.Order{Status: contracts.StatusPreparing}
	incoming := &contracts.Order{Status: contracts.StatusIncoming}

	assert.Equal(t, StateReady, EffectiveState(StateFired, ready))
	assert.Equal(t, StatePreparing, EffectiveState(StateFired, preparing))
	assert.Equal(t, StateFired, EffectiveState(StateFired, incoming))
	assert.Equal(t, StateFired, EffectiveState(StateFired, nil))
	assert.Equal(t, StateDraft, EffectiveState("", nil))
}

func TestDefaultID(t *testing.T) {
	m := NewMachine(nil, nil)
	m.Now = func() time.Time { return time.Unix(1772388000, 0) }
	id := m.NewID()
	assert.Regexp(t, `^G1772388000-[0-9a-z]{4}$`, id)
}
