package orders

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aadi/tabletsync/internal/contracts"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("order not found")

// Collection is the authoritative order set, its cursor counter and the
// subscriber registry. Every mutation goes through Upsert, Update, Delete or
// Inject; all of them hold mu for their whole duration, so mutations and the
// events they emit are totally ordered.
type Collection struct {
	Now             func() time.Time
	NewSubscriberID func() string
	Logger          *slog.Logger

	mu       sync.Mutex
	byID     map[string]contracts.Order
	ids      []string
	injected map[string]struct{}
	cursor   uint64
	subs     *registry
}

type Option func(*Collection)

// WithSubscriberBuffer sets how many undelivered events a subscriber may
// accumulate before it is dropped.
func WithSubscriberBuffer(n int) Option {
	return func(c *Collection) { c.subs = newRegistry(n) }
}

func NewCollection(opts ...Option) *Collection {
	c := &Collection{
		Now:             func() time.Time { return time.Now().UTC() },
		NewSubscriberID: uuid.NewString,
		Logger:          slog.Default(),
		byID:            map[string]contracts.Order{},
		injected:        map[string]struct{}{},
		subs:            newRegistry(defaultSubscriberBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collection) nextCursorLocked() contracts.Cursor {
	c.cursor++
	return contracts.NewCursor(c.cursor)
}

func (c *Collection) listLocked() []contracts.Order {
	out := make([]contracts.Order, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.byID[id].Clone())
	}
	return out
}

// Read returns the full collection with a freshly issued cursor. since is
// accepted for wire compatibility; the pull path always answers with the
// complete set.
func (c *Collection) Read(since contracts.Cursor) contracts.ReadResponse {
	_ = since
	c.mu.Lock()
	defer c.mu.Unlock()
	return contracts.ReadResponse{Cursor: c.nextCursorLocked(), Orders: c.listLocked()}
}

// List returns the current orders in insertion order without issuing a cursor.
func (c *Collection) List() []contracts.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listLocked()
}

func (c *Collection) Get(id string) (contracts.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.byID[id]
	if !ok {
		return contracts.Order{}, false
	}
	return o.Clone(), true
}

// Cursor returns the last issued cursor.
func (c *Collection) Cursor() contracts.Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return contracts.NewCursor(c.cursor)
}

func (c *Collection) Upsert(order contracts.Order) (contracts.Order, error) {
	if err := order.Validate(); err != nil {
		return contracts.Order{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upsertLocked(order, true), nil
}

// Update applies fn to the stored order with the given id and upserts the result.
func (c *Collection) Update(id string, fn func(o *contracts.Order) error) (contracts.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.byID[id]
	if !ok {
		return contracts.Order{}, ErrNotFound
	}
	next := current.Clone()
	if err := fn(&next); err != nil {
		return contracts.Order{}, err
	}
	next.ID = id
	if err := next.Validate(); err != nil {
		return contracts.Order{}, err
	}
	return c.upsertLocked(next, true), nil
}

// Seed stores orders with their timestamps untouched. Meant for startup data.
func (c *Collection) Seed(orders ...contracts.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			return err
		}
		c.upsertLocked(o, false)
	}
	return nil
}

func (c *Collection) upsertLocked(order contracts.Order, touch bool) contracts.Order {
	order = order.Clone()
	now := c.Now()
	existing, exists := c.byID[order.ID]
	if order.CreatedAt.IsZero() {
		if exists {
			order.CreatedAt = existing.CreatedAt
		} else {
			order.CreatedAt = now
		}
	}
	if touch || order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	if !exists {
		c.ids = append(c.ids, order.ID)
	}
	c.byID[order.ID] = order

	c.broadcastLocked(contracts.Upsert{Cursor: c.nextCursorLocked(), Order: order.Clone()})
	return order.Clone()
}

// Delete removes the order if present. Deleting an unknown id is a no-op and
// emits nothing.
func (c *Collection) Delete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	for i, existing := range c.ids {
		if existing == id {
			c.ids = append(c.ids[:i], c.ids[i+1:]...)
			break
		}
	}
	c.broadcastLocked(contracts.Delete{Cursor: c.nextCursorLocked(), ID: id})
	return true
}

func (c *Collection) broadcastLocked(e contracts.Event) {
	for _, id := range c.subs.broadcast(e) {
		c.Logger.Warn("dropped slow stream subscriber", "subscriber_id", id)
	}
}

// Subscribe registers a listener. Its first event is a snapshot of the
// collection taken atomically with registration.
func (c *Collection) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := contracts.Snapshot{Cursor: c.nextCursorLocked(), Orders: c.listLocked()}
	return c.subs.add(c.NewSubscriberID(), snapshot)
}

func (c *Collection) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs.remove(sub.id)
}

func (c *Collection) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs.len()
}

// Heartbeat sends a liveness event to every subscriber.
func (c *Collection) Heartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcastLocked(contracts.Heartbeat{TS: c.Now()})
}

// RunHeartbeat emits heartbeats every interval until ctx is done, then closes
// every remaining subscription.
func (c *Collection) RunHeartbeat(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-ticker.C:
			c.Heartbeat()
		}
	}
}

// Close removes all subscribers, ending their streams.
func (c *Collection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs.closeAll()
}
