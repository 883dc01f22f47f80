package orders

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/aadi/tabletsync/internal/contracts"
)

type SimAction string

const (
	SimCreated  SimAction = "created"
	SimAdvanced SimAction = "advanced"
	SimReady    SimAction = "ready"
	SimPickedUp SimAction = "picked_up"
	SimIdle     SimAction = "idle"
)

// Simulator drives demo traffic through the same Upsert/Update/Delete calls
// real mutations use, so subscribers cannot tell the two apart.
type Simulator struct {
	Collection *Collection
	Logger     *slog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	nextID int
}

func NewSimulator(c *Collection, seed int64) *Simulator {
	return &Simulator{
		Collection: c,
		Logger:     slog.Default(),
		rng:        rand.New(rand.NewSource(seed)),
		nextID:     1035,
	}
}

func (s *Simulator) intn(min, max int) int {
	return min + s.rng.Intn(max-min+1)
}

func (s *Simulator) pick(candidates []contracts.Order) contracts.Order {
	return candidates[s.rng.Intn(len(candidates))]
}

// Step performs at most one mutation and reports what it did.
func (s *Simulator) Step() SimAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.Collection
	now := c.Now()

	if s.rng.Float64() < 0.35 {
		id := "A" + strconv.Itoa(s.nextID)
		s.nextID++
		flags := []string{}
		if s.rng.Float64() < 0.2 {
			flags = append(flags, "VIP")
		}
		order := contracts.Order{
			ID:        id,
			Status:    contracts.StatusIncoming,
			PartySize: s.intn(1, 6),
			Arrival:   contracts.ETA(s.intn(2, 12)),
			Items: []contracts.Item{
				{Name: "Taco", Qty: s.intn(1, 3)},
				{Name: "Soda", Qty: s.intn(1, 2)},
			},
			Flags:     flags,
			CreatedAt: now,
		}
		if _, err := c.Upsert(order); err != nil {
			s.Logger.Warn("simulated create failed", "order_id", id, "error", err)
			return SimIdle
		}
		return SimCreated
	}

	var incoming, preparing, ready []contracts.Order
	for _, o := range c.List() {
		switch o.Status {
		case contracts.StatusIncoming:
			incoming = append(incoming, o)
		case contracts.StatusPreparing:
			preparing = append(preparing, o)
		case contracts.StatusReady:
			ready = append(ready, o)
		}
	}

	if len(incoming) > 0 && s.rng.Float64() < 0.6 {
		target := s.pick(incoming)
		arrive := s.rng.Float64() < 0.5
		seat := arrive && s.rng.Float64() < 0.5
		table := "T" + strconv.Itoa(s.intn(1, 20))
		promote := s.rng.Float64() < 0.6
		_, err := c.Update(target.ID, func(o *contracts.Order) error {
			if arrive {
				o.Arrival = contracts.ArrivedAt(now)
				if seat {
					o.Table = &table
				}
			}
			if promote && o.Status == contracts.StatusIncoming {
				o.Status = contracts.StatusPreparing
			}
			return nil
		})
		if err != nil {
			return SimIdle
		}
		return SimAdvanced
	}

	if len(preparing) > 0 {
		target := s.pick(preparing)
		_, err := c.Update(target.ID, func(o *contracts.Order) error {
			if o.Status == contracts.StatusPreparing {
				o.Status = contracts.StatusReady
			}
			return nil
		})
		if err != nil {
			return SimIdle
		}
		return SimReady
	}

	if len(ready) > 0 && s.rng.Float64() < 0.3 {
		if c.Delete(s.pick(ready).ID) {
			return SimPickedUp
		}
	}
	return SimIdle
}

func (s *Simulator) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if action := s.Step(); action != SimIdle {
				s.Logger.Debug("simulation step", "action", string(action))
			}
		}
	}
}

// DemoOrders returns the three orders the tablet demo starts with.
func DemoOrders(now time.Time) []contracts.Order {
	ago := func(minutes int) time.Time { return now.Add(-time.Duration(minutes) * time.Minute) }
	t12, t3 := "T12", "T3"
	return []contracts.Order{
		{
			ID:        "A1032",
			Status:    contracts.StatusIncoming,
			PartySize: 2,
			Arrival:   contracts.ETA(6),
			Items:     []contracts.Item{{Name: "Burger", Qty: 2}, {Name: "Fries", Qty: 1}},
			Flags:     []string{"ALLERGY"},
			CreatedAt: ago(6),
			UpdatedAt: ago(6),
		},
		{
			ID:        "A1033",
			Status:    contracts.StatusPreparing,
			PartySize: 4,
			Table:     &t12,
			Arrival:   contracts.ArrivedAt(ago(21)),
			Items: []contracts.Item{
				{Name: "Margherita Pizza", Qty: 1},
				{Name: "Caesar Salad", Qty: 2},
				{Name: "Iced Tea", Qty: 4},
			},
			Flags:     []string{},
			CreatedAt: ago(12),
			UpdatedAt: ago(10),
		},
		{
			ID:        "A1034",
			Status:    contracts.StatusReady,
			PartySize: 1,
			Table:     &t3,
			Arrival:   contracts.ArrivedAt(ago(21)),
			Items:     []contracts.Item{{Name: "Espresso", Qty: 1}},
			Flags:     []string{"VIP"},
			CreatedAt: ago(45),
			UpdatedAt: ago(41),
		},
	}
}
