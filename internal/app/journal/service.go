package journal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aadi/tabletsync/internal/contracts"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")
var ErrUnsupportedEventType = errors.New("unsupported event type")

type Repository interface {
	RecordEvent(ctx context.Context, event contracts.MirroredEvent, payload []byte, eventSeq uint64) error
	ListOrders(ctx context.Context) ([]contracts.Order, error)
}

// Service persists mirrored collection changes: every event is appended to
// the log and folded into a projection of the live order set.
type Service struct {
	Repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{Repository: repository}
}

func (s *Service) Handle(ctx context.Context, payload []byte, eventSeq uint64) error {
	var event contracts.MirroredEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ErrInvalidEventPayload
	}
	switch event.Type {
	case contracts.EventSnapshot:
	case contracts.EventUpsert:
		if event.Order == nil || event.Order.ID == "" {
			return ErrInvalidEventPayload
		}
		if event.OrderID == "" {
			event.OrderID = event.Order.ID
		}
	case contracts.EventDelete:
		if event.OrderID == "" {
			return ErrInvalidEventPayload
		}
	default:
		return ErrUnsupportedEventType
	}
	return s.Repository.RecordEvent(ctx, event, payload, eventSeq)
}

func (s *Service) Orders(ctx context.Context) ([]contracts.Order, error) {
	return s.Repository.ListOrders(ctx)
}
