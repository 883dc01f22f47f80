package guest

import (
	"errors"
	"time"
)

var (
	ErrNoOrder           = errors.New("no order for restaurant")
	ErrUnknownRestaurant = errors.New("unknown restaurant")
	ErrInvalidCart       = errors.New("invalid cart")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrNotDraft          = errors.New("order is past draft")
	ErrNotStaged         = errors.New("order is not staged")
	ErrAlreadyFired      = errors.New("order already fired")
	ErrInjectionFailed   = errors.New("order could not be sent to the restaurant")
)

type State string

const (
	StateDraft     State = "DRAFT"
	StateStaged    State = "STAGED"
	StateFired     State = "FIRED"
	StatePreparing State = "PREPARING"
	StateReady     State = "READY"
)

// Timeline is the order every guest order moves through.
var Timeline = []State{StateDraft, StateStaged, StateFired, StatePreparing, StateReady}

func (s State) rank() int {
	for i, t := range Timeline {
		if t == s {
			return i
		}
	}
	return -1
}

const (
	EventDraftSaved   = "DRAFT_SAVED"
	EventStaged       = "STAGED"
	EventFired        = "FIRED"
	EventInjected     = "INJECTED"
	EventInjectFailed = "INJECT_FAILED"
)

type CartItem struct {
	ItemID     string  `json:"itemId"`
	Name       string  `json:"name"`
	PriceCents int     `json:"priceCents"`
	Qty        int     `json:"qty"`
	Station    *string `json:"station,omitempty"`
}

type Cart struct {
	Items []CartItem `json:"items"`
}

func (c Cart) TotalCents() int {
	total := 0
	for _, item := range c.Items {
		total += item.PriceCents * item.Qty
	}
	return total
}

type ArrivalMode string

const (
	ArrivalModeETA      ArrivalMode = "ETA"
	ArrivalModeLocation ArrivalMode = "LOCATION"
)

const (
	defaultETAMinutes = 10
	minETAMinutes     = 1
	maxETAMinutes     = 60
)

type ArrivalPlan struct {
	Mode       ArrivalMode `json:"mode"`
	ETAMinutes int         `json:"etaMinutes"`
}

func DefaultArrivalPlan() ArrivalPlan {
	return ArrivalPlan{Mode: ArrivalModeETA, ETAMinutes: defaultETAMinutes}
}

// normalized clamps the ETA to 1..60 minutes and defaults the mode.
func (p ArrivalPlan) normalized() ArrivalPlan {
	if p.Mode != ArrivalModeLocation {
		p.Mode = ArrivalModeETA
	}
	if p.ETAMinutes < minETAMinutes {
		p.ETAMinutes = minETAMinutes
	}
	if p.ETAMinutes > maxETAMinutes {
		p.ETAMinutes = maxETAMinutes
	}
	return p
}

type Location struct {
	Enabled bool `json:"enabled"`
}

type Event struct {
	At   time.Time `json:"at"`
	Type string    `json:"type"`
}

// Order is the guest-side record of one order at one restaurant.
type Order struct {
	ID           string      `json:"id"`
	RestaurantID string      `json:"restaurantId"`
	State        State       `json:"state"`
	Cart         Cart        `json:"cart"`
	ArrivalPlan  ArrivalPlan `json:"arrivalPlan"`
	Location     Location    `json:"location"`
	PartySize    int         `json:"partySize,omitempty"`
	Flags        []string    `json:"flags,omitempty"`
	Events       []Event     `json:"events"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	FiredAt      *time.Time  `json:"firedAt,omitempty"`
}

func (o *Order) record(at time.Time, eventType string) {
	o.UpdatedAt = at
	o.Events = append(o.Events, Event{At: at, Type: eventType})
}

// HasEvent reports whether eventType was ever recorded.
func (o Order) HasEvent(eventType string) bool {
	for _, e := range o.Events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}
