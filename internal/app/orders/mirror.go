package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aadi/tabletsync/internal/contracts"
	"github.com/aadi/tabletsync/internal/messaging"
)

type PublishFunc func(subject string, payload []byte) error

// Mirror republishes every change the collection broadcasts onto the
// tablet.event.> subjects. It is an ordinary subscriber: when it falls behind
// and gets dropped it resubscribes, and the fresh snapshot it receives is
// mirrored too so the journal can rebuild its projection.
type Mirror struct {
	Publish PublishFunc
	Now     func() time.Time
	Logger  *slog.Logger
}

func NewMirror(publish PublishFunc) *Mirror {
	return &Mirror{
		Publish: publish,
		Now:     func() time.Time { return time.Now().UTC() },
		Logger:  slog.Default(),
	}
}

func (m *Mirror) Run(ctx context.Context, c *Collection) {
	for {
		sub := c.Subscribe()
		m.drain(ctx, sub)
		c.Unsubscribe(sub)
		if ctx.Err() != nil {
			return
		}
		m.Logger.Warn("order mirror resubscribing")
		select {
		case <-ctx.Done():
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (m *Mirror) drain(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			// A lost event leaves the journal behind; resubscribing
			// republishes a full snapshot.
			if err := m.Forward(e); err != nil {
				m.Logger.Error("mirror publish failed", "event", string(e.Type()), "error", err)
				return
			}
		}
	}
}

// Forward publishes one event. Heartbeats are not mirrored.
func (m *Mirror) Forward(e contracts.Event) error {
	mirrored := contracts.MirroredEvent{Type: e.Type(), OccurredAt: m.Now()}
	orderID := ""
	switch ev := e.(type) {
	case contracts.Snapshot:
		mirrored.Cursor = ev.Cursor
		mirrored.Orders = ev.Orders
		if mirrored.Orders == nil {
			mirrored.Orders = []contracts.Order{}
		}
	case contracts.Upsert:
		order := ev.Order
		mirrored.Cursor = ev.Cursor
		mirrored.OrderID = order.ID
		mirrored.Order = &order
		orderID = order.ID
	case contracts.Delete:
		mirrored.Cursor = ev.Cursor
		mirrored.OrderID = ev.ID
		orderID = ev.ID
	case contracts.Heartbeat:
		return nil
	default:
		return contracts.ErrUnknownEvent
	}

	payload, err := json.Marshal(mirrored)
	if err != nil {
		return err
	}
	return m.Publish(messaging.OrderEventSubject(string(e.Type()), orderID), payload)
}
