package feed

import (
	"sort"
	"time"

	"github.com/aadi/tabletsync/internal/contracts"
)

type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyWatch  Urgency = "watch"
	UrgencyUrgent Urgency = "urgent"
)

const (
	readyUrgentAfter   = 5 * time.Minute
	arrivedUrgentAfter = 4 * time.Minute
	maxAlerts          = 12
)

func minutesSince(t, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / time.Minute)
}

// ReadySince is when an order reached its current status, as far as the
// record tells.
func ReadySince(o contracts.Order) time.Time {
	if !o.UpdatedAt.IsZero() {
		return o.UpdatedAt
	}
	return o.CreatedAt
}

// UrgencyOf classifies an order for the board. A READY order waiting five
// minutes is urgent. An INCOMING order whose party has arrived is watched, and
// urgent once it was created four minutes ago.
func UrgencyOf(o contracts.Order, now time.Time) Urgency {
	switch o.Status {
	case contracts.StatusReady:
		if now.Sub(ReadySince(o)) >= readyUrgentAfter {
			return UrgencyUrgent
		}
	case contracts.StatusIncoming:
		if o.Arrival.State == contracts.ArrivalArrived {
			if now.Sub(o.CreatedAt) >= arrivedUrgentAfter {
				return UrgencyUrgent
			}
			return UrgencyWatch
		}
	}
	return UrgencyNormal
}

type Alert struct {
	OrderID  string
	Severity Urgency
	Title    string
	Table    *string
	Minutes  int
}

// Alerts lists orders needing staff attention, most severe first, at most 12.
func Alerts(orders []contracts.Order, now time.Time) []Alert {
	var alerts []Alert
	for _, o := range orders {
		switch {
		case o.Status == contracts.StatusReady && now.Sub(ReadySince(o)) >= readyUrgentAfter:
			alerts = append(alerts, Alert{
				OrderID:  o.ID,
				Severity: UrgencyUrgent,
				Title:    "Ready, not picked up",
				Table:    o.Table,
				Minutes:  minutesSince(ReadySince(o), now),
			})
		case o.Status == contracts.StatusIncoming && o.Arrival.State == contracts.ArrivalArrived &&
			now.Sub(o.CreatedAt) >= arrivedUrgentAfter:
			var arrived time.Time
			if o.Arrival.ArrivedAt != nil {
				arrived = *o.Arrival.ArrivedAt
			}
			alerts = append(alerts, Alert{
				OrderID:  o.ID,
				Severity: UrgencyWatch,
				Title:    "Arrived, not started",
				Table:    o.Table,
				Minutes:  minutesSince(arrived, now),
			})
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return severityScore(alerts[i].Severity) > severityScore(alerts[j].Severity)
	})
	if len(alerts) > maxAlerts {
		alerts = alerts[:maxAlerts]
	}
	return alerts
}

func severityScore(u Urgency) int {
	switch u {
	case UrgencyUrgent:
		return 2
	case UrgencyWatch:
		return 1
	default:
		return 0
	}
}
