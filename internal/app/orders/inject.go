package orders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aadi/tabletsync/internal/contracts"
)

const defaultPartySize = 2

var (
	ErrInvalidInject = errors.New("invalid inject payload")

	// ErrIDConflict means a guest order id matches an order that did not come
	// from a guest. Guest ids are used as authoritative ids, so the injection
	// is refused rather than overwriting an unrelated order.
	ErrIDConflict = errors.New("order id already in use")
)

type InjectResult struct {
	Order contracts.Order
	// Duplicate is set when the guest order was injected before. Order is the
	// live record, or only carries the id if the order has since been removed.
	Duplicate bool
}

func validateInject(req contracts.InjectRequest) error {
	if strings.TrimSpace(req.GuestOrderID) == "" {
		return fmt.Errorf("%w: guestOrderId is required", ErrInvalidInject)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: items are required", ErrInvalidInject)
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: items[%d].name is required", ErrInvalidInject, i)
		}
		if item.Qty < 1 {
			return fmt.Errorf("%w: items[%d].qty must be at least 1", ErrInvalidInject, i)
		}
	}
	if req.PartySize < 0 {
		return fmt.Errorf("%w: partySize must be positive", ErrInvalidInject)
	}
	if req.Arrival != nil && !req.Arrival.Valid() {
		return fmt.Errorf("%w: invalid arrival", ErrInvalidInject)
	}
	return nil
}

// Inject turns a fired guest order into an INCOMING order. Missing fields
// default to party of 2, no table, and ARRIVED at the firing time.
func (c *Collection) Inject(req contracts.InjectRequest) (InjectResult, error) {
	if err := validateInject(req); err != nil {
		injectsTotal.WithLabelValues("invalid").Inc()
		return InjectResult{}, err
	}
	id := strings.TrimSpace(req.GuestOrderID)

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.byID[id]
	if _, fromGuest := c.injected[id]; fromGuest {
		injectsTotal.WithLabelValues("duplicate").Inc()
		if exists {
			return InjectResult{Order: existing.Clone(), Duplicate: true}, nil
		}
		return InjectResult{Order: contracts.Order{ID: id}, Duplicate: true}, nil
	}
	if exists {
		injectsTotal.WithLabelValues("conflict").Inc()
		return InjectResult{}, fmt.Errorf("%w: %s", ErrIDConflict, id)
	}

	now := c.Now()
	submittedAt := now
	if req.FiredAt != nil && !req.FiredAt.IsZero() {
		submittedAt = req.FiredAt.UTC()
	} else if req.CreatedAt != nil && !req.CreatedAt.IsZero() {
		submittedAt = req.CreatedAt.UTC()
	}

	order := contracts.Order{
		ID:        id,
		Status:    contracts.StatusIncoming,
		Arrival:   contracts.ArrivedAt(submittedAt),
		Table:     req.Table,
		PartySize: req.PartySize,
		Items:     req.Items,
		Flags:     req.Flags,
		CreatedAt: submittedAt,
	}
	if order.PartySize == 0 {
		order.PartySize = defaultPartySize
	}
	if req.Arrival != nil {
		order.Arrival = *req.Arrival
	}
	if order.Flags == nil {
		order.Flags = []string{}
	}

	c.injected[id] = struct{}{}
	stored := c.upsertLocked(order, true)
	injectsTotal.WithLabelValues("accepted").Inc()
	c.Logger.Info("guest order injected", "order_id", id, "restaurant_id", req.RestaurantID, "items", len(order.Items))
	return InjectResult{Order: stored}, nil
}
