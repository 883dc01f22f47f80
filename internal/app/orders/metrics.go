package orders

import "github.com/aadi/tabletsync/internal/platform/metrics"

var (
	eventsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "tabletsync_broadcast_events_total",
		Help: "Events fanned out to stream subscribers, by type.",
	}, []string{"type"})

	droppedTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "tabletsync_dropped_subscribers_total",
		Help: "Stream subscribers removed from fan-out, by reason.",
	}, []string{"reason"})

	subscribersGauge = metrics.NewGauge(metrics.Opts{
		Name: "tabletsync_stream_subscribers",
		Help: "Currently registered stream subscribers.",
	})

	injectsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "tabletsync_injects_total",
		Help: "Guest order injections, by outcome.",
	}, []string{"outcome"})
)

func init() {
	metrics.Default.MustRegister(eventsTotal, droppedTotal, subscribersGauge, injectsTotal)
}
