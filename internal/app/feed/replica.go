package feed

import (
	"sort"

	"github.com/aadi/tabletsync/internal/contracts"
)

// Replica is the consumer-side copy of the order collection. It is not safe
// for concurrent use; the engine serialises access to it.
type Replica struct {
	orders map[string]contracts.Order
	cursor contracts.Cursor
}

func NewReplica() *Replica {
	return &Replica{orders: map[string]contracts.Order{}}
}

func (r *Replica) Cursor() contracts.Cursor { return r.cursor }

func (r *Replica) Len() int { return len(r.orders) }

func (r *Replica) Get(id string) (contracts.Order, bool) {
	o, ok := r.orders[id]
	if !ok {
		return contracts.Order{}, false
	}
	return o.Clone(), true
}

func (r *Replica) advance(c contracts.Cursor) {
	r.cursor = contracts.MaxCursor(r.cursor, c)
}

// Apply reconciles one stream event and reports whether the order set changed.
func (r *Replica) Apply(e contracts.Event) bool {
	switch ev := e.(type) {
	case contracts.Snapshot:
		next := make(map[string]contracts.Order, len(ev.Orders))
		for _, o := range ev.Orders {
			if o.ID == "" {
				continue
			}
			next[o.ID] = o.Clone()
		}
		r.orders = next
		r.advance(ev.Cursor)
		return true
	case contracts.Upsert:
		r.orders[ev.Order.ID] = ev.Order.Clone()
		r.advance(ev.Cursor)
		return true
	case contracts.Delete:
		_, existed := r.orders[ev.ID]
		delete(r.orders, ev.ID)
		r.advance(ev.Cursor)
		return existed
	case contracts.Heartbeat:
		return false
	default:
		return false
	}
}

// MergePoll upserts every polled order. Orders missing from the response are
// kept: only snapshots remove orders.
func (r *Replica) MergePoll(resp contracts.ReadResponse) bool {
	for _, o := range resp.Orders {
		if o.ID == "" {
			continue
		}
		r.orders[o.ID] = o.Clone()
	}
	r.advance(resp.Cursor)
	return len(resp.Orders) > 0
}

// Grouped is the replica split by status, each column oldest first.
type Grouped struct {
	Incoming  []contracts.Order `json:"incoming"`
	Preparing []contracts.Order `json:"preparing"`
	Ready     []contracts.Order `json:"ready"`
}

func (g Grouped) All() []contracts.Order {
	out := make([]contracts.Order, 0, len(g.Incoming)+len(g.Preparing)+len(g.Ready))
	out = append(out, g.Incoming...)
	out = append(out, g.Preparing...)
	return append(out, g.Ready...)
}

func (r *Replica) Grouped() Grouped {
	g := Grouped{
		Incoming:  []contracts.Order{},
		Preparing: []contracts.Order{},
		Ready:     []contracts.Order{},
	}
	for _, o := range r.orders {
		switch o.Status {
		case contracts.StatusIncoming:
			g.Incoming = append(g.Incoming, o.Clone())
		case contracts.StatusPreparing:
			g.Preparing = append(g.Preparing, o.Clone())
		case contracts.StatusReady:
			g.Ready = append(g.Ready, o.Clone())
		}
	}
	sortByCreated(g.Incoming)
	sortByCreated(g.Preparing)
	sortByCreated(g.Ready)
	return g
}

func sortByCreated(orders []contracts.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
