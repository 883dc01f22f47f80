package messaging

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
)

const (
	OrderEventsStream = "ORDER_EVENTS"
	OrderEventsFilter = "tablet.event.>"
)

// EnsureStreams creates (or validates) the stream that mirrors every change
// broadcast by the order collection: tablet.event.<type>.<order id>
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(OrderEventsStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:      OrderEventsStream,
			Subjects:  []string{OrderEventsFilter},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			Replicas:  1,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}

// OrderEventSubject returns the subject an order change is mirrored on.
// Dots in ids would split the token, so they are replaced.
func OrderEventSubject(eventType, orderID string) string {
	id := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(orderID)
	if id == "" {
		id = "_"
	}
	return "tablet.event." + eventType + "." + id
}
