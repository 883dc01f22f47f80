package contracts

import (
	"errors"
	"strconv"
	"time"
)

var ErrInvalidOrder = errors.New("invalid order")

type Status string

const (
	StatusIncoming  Status = "INCOMING"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIncoming, StatusPreparing, StatusReady:
		return true
	default:
		return false
	}
}

type ArrivalState string

const (
	ArrivalETA     ArrivalState = "ETA"
	ArrivalArrived ArrivalState = "ARRIVED"
)

// Arrival is either {state: ETA, etaMinutes} or {state: ARRIVED, arrivedAt}.
type Arrival struct {
	State      ArrivalState `json:"state"`
	ETAMinutes int          `json:"etaMinutes,omitempty"`
	ArrivedAt  *time.Time   `json:"arrivedAt,omitempty"`
}

func ETA(minutes int) Arrival {
	return Arrival{State: ArrivalETA, ETAMinutes: minutes}
}

func ArrivedAt(at time.Time) Arrival {
	at = at.UTC()
	return Arrival{State: ArrivalArrived, ArrivedAt: &at}
}

func (a Arrival) Valid() bool {
	switch a.State {
	case ArrivalETA:
		return a.ArrivedAt == nil && a.ETAMinutes >= 0
	case ArrivalArrived:
		return a.ArrivedAt != nil
	default:
		return false
	}
}

type Item struct {
	Name    string  `json:"name"`
	Qty     int     `json:"qty"`
	Station *string `json:"station,omitempty"`
}

// Order is the authoritative record owned by the tablet API.
type Order struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Arrival   Arrival   `json:"arrival"`
	Table     *string   `json:"table"`
	PartySize int       `json:"partySize"`
	Items     []Item    `json:"items"`
	Flags     []string  `json:"flags"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (o Order) Validate() error {
	if o.ID == "" {
		return errors.Join(ErrInvalidOrder, errors.New("id is required"))
	}
	if !o.Status.Valid() {
		return errors.Join(ErrInvalidOrder, errors.New("unknown status "+strconv.Quote(string(o.Status))))
	}
	if !o.Arrival.Valid() {
		return errors.Join(ErrInvalidOrder, errors.New("invalid arrival"))
	}
	for _, item := range o.Items {
		if item.Qty < 1 {
			return errors.Join(ErrInvalidOrder, errors.New("item qty must be at least 1"))
		}
	}
	return nil
}

// Clone returns a deep copy so callers never share slices or pointers with a store.
func (o Order) Clone() Order {
	out := o
	if o.Table != nil {
		table := *o.Table
		out.Table = &table
	}
	if o.Arrival.ArrivedAt != nil {
		at := *o.Arrival.ArrivedAt
		out.Arrival.ArrivedAt = &at
	}
	out.Items = make([]Item, len(o.Items))
	for i, item := range o.Items {
		out.Items[i] = item
		if item.Station != nil {
			station := *item.Station
			out.Items[i].Station = &station
		}
	}
	out.Flags = append(make([]string, 0, len(o.Flags)), o.Flags...)
	return out
}

// Cursor is an opaque, server-issued position in the mutation history.
// The tablet API issues decimal counters; consumers only compare them.
type Cursor string

func NewCursor(n uint64) Cursor {
	return Cursor(strconv.FormatUint(n, 10))
}

// Less orders cursors numerically when both are decimal counters and
// lexicographically otherwise. The empty cursor precedes everything.
func (c Cursor) Less(other Cursor) bool {
	if c == other {
		return false
	}
	if c == "" {
		return true
	}
	if other == "" {
		return false
	}
	a, errA := strconv.ParseUint(string(c), 10, 64)
	b, errB := strconv.ParseUint(string(other), 10, 64)
	if errA == nil && errB == nil {
		return a < b
	}
	return c < other
}

// MaxCursor returns whichever cursor is further along.
func MaxCursor(a, b Cursor) Cursor {
	if b.Less(a) {
		return a
	}
	return b
}

// ReadResponse is the body of GET /tablet/orders and the payload of a snapshot event.
type ReadResponse struct {
	Cursor Cursor  `json:"cursor"`
	Orders []Order `json:"orders"`
}

// InjectRequest is the body of POST /tablet/inject, sent when a guest order fires.
type InjectRequest struct {
	GuestOrderID string     `json:"guestOrderId"`
	RestaurantID string     `json:"restaurantId"`
	PartySize    int        `json:"partySize,omitempty"`
	Table        *string    `json:"table"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	FiredAt      *time.Time `json:"firedAt,omitempty"`
	Items        []Item     `json:"items"`
	Flags        []string   `json:"flags"`
	Arrival      *Arrival   `json:"arrival,omitempty"`
}

type InjectResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

// GuestOrderResponse is the body of GET /guest/order/{id}.
type GuestOrderResponse struct {
	Found bool   `json:"found"`
	Order *Order `json:"order"`
}
