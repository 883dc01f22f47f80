package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMalformedEvent = errors.New("malformed event payload")
)

type EventType string

const (
	EventSnapshot  EventType = "snapshot"
	EventUpsert    EventType = "upsert"
	EventDelete    EventType = "delete"
	EventHeartbeat EventType = "heartbeat"
)

// Event is one message of the change stream. The concrete types are
// Snapshot, Upsert, Delete and Heartbeat; consumers switch on them.
type Event interface {
	Type() EventType
	event()
}

type Snapshot struct {
	Cursor Cursor  `json:"cursor"`
	Orders []Order `json:"orders"`
}

type Upsert struct {
	Cursor Cursor `json:"cursor"`
	Order  Order  `json:"order"`
}

type Delete struct {
	Cursor Cursor `json:"cursor"`
	ID     string `json:"id"`
}

type Heartbeat struct {
	TS time.Time `json:"ts"`
}

func (Snapshot) Type() EventType  { return EventSnapshot }
func (Upsert) Type() EventType    { return EventUpsert }
func (Delete) Type() EventType    { return EventDelete }
func (Heartbeat) Type() EventType { return EventHeartbeat }

func (Snapshot) event()  {}
func (Upsert) event()    {}
func (Delete) event()    {}
func (Heartbeat) event() {}

// EncodeEvent returns the SSE event name and JSON data for e.
func EncodeEvent(e Event) (string, []byte, error) {
	if e == nil {
		return "", nil, ErrUnknownEvent
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", nil, err
	}
	return string(e.Type()), data, nil
}

// DecodeEvent parses the data of a named stream event.
func DecodeEvent(name string, data []byte) (Event, error) {
	switch EventType(name) {
	case EventSnapshot:
		var e Snapshot
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
		}
		return e, nil
	case EventUpsert:
		var e Upsert
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
		}
		if e.Order.ID == "" {
			return nil, fmt.Errorf("%w: upsert without order id", ErrMalformedEvent)
		}
		return e, nil
	case EventDelete:
		var e Delete
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
		}
		if e.ID == "" {
			return nil, fmt.Errorf("%w: delete without id", ErrMalformedEvent)
		}
		return e, nil
	case EventHeartbeat:
		var e Heartbeat
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
			}
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

// MirroredEvent is what the change broadcaster publishes to NATS for the journal.
// Snapshot mirrors carry Orders, upserts carry Order, deletes only OrderID.
type MirroredEvent struct {
	Type       EventType `json:"type"`
	Cursor     Cursor    `json:"cursor"`
	OrderID    string    `json:"orderId,omitempty"`
	Order      *Order    `json:"order,omitempty"`
	Orders     []Order   `json:"orders,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
