package orders

import (
	"sync"

	"github.com/aadi/tabletsync/internal/contracts"
)

const defaultSubscriberBuffer = 64

// Subscription is one listener registered with the change broadcaster.
// Events is closed when the subscriber is removed, either by Unsubscribe or
// because it fell too far behind.
type Subscription struct {
	id     string
	events chan contracts.Event
	once   sync.Once
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Events() <-chan contracts.Event { return s.events }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}

// registry is the subscriber set. It is only touched with Collection.mu held,
// which keeps fan-out ordered with the mutations that produce it.
type registry struct {
	buffer int
	subs   map[string]*Subscription
}

func newRegistry(buffer int) *registry {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &registry{buffer: buffer, subs: map[string]*Subscription{}}
}

func (r *registry) add(id string, first contracts.Event) *Subscription {
	sub := &Subscription{id: id, events: make(chan contracts.Event, r.buffer)}
	sub.events <- first
	r.subs[id] = sub
	subscribersGauge.Set(float64(len(r.subs)))
	return sub
}

func (r *registry) remove(id string) bool {
	sub, ok := r.subs[id]
	if !ok {
		return false
	}
	delete(r.subs, id)
	sub.close()
	subscribersGauge.Set(float64(len(r.subs)))
	return true
}

// broadcast never blocks: a subscriber whose buffer is full is dropped and
// must reconnect to get a fresh snapshot. It returns the dropped ids.
func (r *registry) broadcast(e contracts.Event) []string {
	eventsTotal.WithLabelValues(string(e.Type())).Inc()

	var dropped []string
	for id, sub := range r.subs {
		select {
		case sub.events <- e:
		default:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		r.remove(id)
		droppedTotal.WithLabelValues("buffer_full").Inc()
	}
	return dropped
}

func (r *registry) closeAll() {
	for id := range r.subs {
		r.remove(id)
	}
}

func (r *registry) len() int { return len(r.subs) }
