package guest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aadi/tabletsync/internal/contracts"
	"github.com/nats-io/nuid"
)

// Machine drives guest orders through DRAFT, STAGED and FIRED. PREPARING and
// READY are never written here; they are read back from the restaurant.
//
// Operations are serialised, so two Fire calls racing on the same order
// produce a single injection.
type Machine struct {
	Store    Store
	Injector Injector
	// KnownRestaurant rejects ids outside the directory. Nil accepts any id.
	KnownRestaurant func(id string) bool
	Now             func() time.Time
	NewID           func() string
	Logger          *slog.Logger

	mu sync.Mutex
}

func NewMachine(store Store, injector Injector) *Machine {
	m := &Machine{
		Store:    store,
		Injector: injector,
		Now:      func() time.Time { return time.Now().UTC() },
		Logger:   slog.Default(),
	}
	m.NewID = m.defaultID
	return m
}

// defaultID returns G<unix seconds>-<4 lowercase chars>.
func (m *Machine) defaultID() string {
	suffix := nuid.Next()
	return fmt.Sprintf("G%d-%s", m.Now().Unix(), strings.ToLower(suffix[len(suffix)-4:]))
}

type StageOptions struct {
	Plan            ArrivalPlan
	LocationEnabled bool
	PartySize       int
}

type FireResult struct {
	Order Order
	// InjectErr is set when the order fired but the restaurant could not be
	// reached. The order stays FIRED.
	InjectErr error
}

func (m *Machine) checkRestaurant(restaurantID string) error {
	if strings.TrimSpace(restaurantID) == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownRestaurant)
	}
	if m.KnownRestaurant != nil && !m.KnownRestaurant(restaurantID) {
		return fmt.Errorf("%w: %s", ErrUnknownRestaurant, restaurantID)
	}
	return nil
}

func validateCart(items []CartItem) error {
	for i, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("%w: item %d has no name", ErrInvalidCart, i)
		}
		if it.Qty < 1 {
			return fmt.Errorf("%w: item %q qty must be at least 1", ErrInvalidCart, it.Name)
		}
		if it.PriceCents < 0 {
			return fmt.Errorf("%w: item %q has a negative price", ErrInvalidCart, it.Name)
		}
	}
	return nil
}

func (m *Machine) Get(ctx context.Context, restaurantID string) (Order, error) {
	if err := m.checkRestaurant(restaurantID); err != nil {
		return Order{}, err
	}
	return m.Store.Load(ctx, restaurantID)
}

// SaveCart creates the draft on first save and replaces its cart afterwards.
func (m *Machine) SaveCart(ctx context.Context, restaurantID string, items []CartItem) (Order, error) {
	if err := m.checkRestaurant(restaurantID); err != nil {
		return Order{}, err
	}
	if err := validateCart(items); err != nil {
		return Order{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	order, err := m.Store.Load(ctx, restaurantID)
	switch {
	case errors.Is(err, ErrNoOrder):
		order = Order{
			ID:           m.NewID(),
			RestaurantID: restaurantID,
			State:        StateDraft,
			ArrivalPlan:  DefaultArrivalPlan(),
			Events:       []Event{},
			CreatedAt:    now,
		}
	case err != nil:
		return Order{}, err
	case order.State != StateDraft:
		return Order{}, fmt.Errorf("%w: %s is %s", ErrNotDraft, order.ID, order.State)
	}

	order.Cart = Cart{Items: append([]CartItem{}, items...)}
	order.record(now, EventDraftSaved)
	if err := m.Store.Save(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Stage records how the guest will arrive. A staged order can be re-staged
// until it fires.
func (m *Machine) Stage(ctx context.Context, restaurantID string, opts StageOptions) (Order, error) {
	if err := m.checkRestaurant(restaurantID); err != nil {
		return Order{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.Store.Load(ctx, restaurantID)
	if err != nil {
		return Order{}, err
	}
	if order.State.rank() >= StateFired.rank() {
		return Order{}, fmt.Errorf("%w: %s", ErrAlreadyFired, order.ID)
	}
	if len(order.Cart.Items) == 0 {
		return Order{}, ErrEmptyCart
	}
	if opts.PartySize < 0 {
		return Order{}, fmt.Errorf("%w: party size must be positive", ErrInvalidCart)
	}

	plan := order.ArrivalPlan
	if opts.Plan.Mode != "" || opts.Plan.ETAMinutes != 0 {
		plan = opts.Plan
	}
	order.ArrivalPlan = plan.normalized()
	order.Location = Location{Enabled: opts.LocationEnabled}
	if opts.PartySize > 0 {
		order.PartySize = opts.PartySize
	}
	order.State = StateStaged
	order.record(m.Now(), EventStaged)

	if err := m.Store.Save(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Fire moves a staged order to FIRED, persists it, then injects it exactly
// once. An injection failure is reported in FireResult and recorded as an
// INJECT_FAILED event; it does not undo the firing.
func (m *Machine) Fire(ctx context.Context, restaurantID string) (FireResult, error) {
	if err := m.checkRestaurant(restaurantID); err != nil {
		return FireResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.Store.Load(ctx, restaurantID)
	if err != nil {
		return FireResult{}, err
	}
	switch {
	case order.State.rank() >= StateFired.rank():
		return FireResult{}, fmt.Errorf("%w: %s", ErrAlreadyFired, order.ID)
	case order.State != StateStaged:
		return FireResult{}, fmt.Errorf("%w: %s is %s", ErrNotStaged, order.ID, order.State)
	case len(order.Cart.Items) == 0:
		return FireResult{}, ErrEmptyCart
	}

	now := m.Now()
	order.State = StateFired
	order.FiredAt = &now
	order.record(now, EventFired)
	if err := m.Store.Save(ctx, order); err != nil {
		return FireResult{}, err
	}

	result := FireResult{Order: order}
	if m.Injector == nil {
		result.InjectErr = fmt.Errorf("%w: no injector configured", ErrInjectionFailed)
	} else if _, err := m.Injector.Inject(ctx, order); err != nil {
		result.InjectErr = fmt.Errorf("%w: %v", ErrInjectionFailed, err)
	}

	if result.InjectErr != nil {
		m.Logger.Warn("guest order fired but not delivered", "order_id", order.ID, "restaurant_id", restaurantID, "error", result.InjectErr)
		order.record(m.Now(), EventInjectFailed)
	} else {
		m.Logger.Info("guest order fired", "order_id", order.ID, "restaurant_id", restaurantID)
		order.record(m.Now(), EventInjected)
	}
	if err := m.Store.Save(ctx, order); err != nil {
		m.Logger.Error("persist fire outcome failed", "order_id", order.ID, "error", err)
	}
	result.Order = order
	return result, nil
}

// Reset forgets the restaurant's order so the next save starts a new draft.
func (m *Machine) Reset(ctx context.Context, restaurantID string) error {
	if err := m.checkRestaurant(restaurantID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Store.Delete(ctx, restaurantID)
}

// EffectiveState is what the guest sees: PREPARING and READY come from the
// restaurant's copy of the order, everything else from the local record.
func EffectiveState(local State, remote *contracts.Order) State {
	if local == "" {
		local = StateDraft
	}
	if remote != nil {
		switch remote.Status {
		case contracts.StatusReady:
			return StateReady
		case contracts.StatusPreparing:
			return StatePreparing
		}
	}
	return local
}
