package frontend

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/aadi/tabletsync/internal/app/feed"
	"github.com/aadi/tabletsync/internal/contracts"
)

// BoardView is everything the kitchen board renders.
type BoardView struct {
	Title  string
	Orders feed.Grouped
	Health feed.Health
	Now    time.Time
}

func (v BoardView) Alerts() []feed.Alert {
	return feed.Alerts(v.Orders.All(), v.Now)
}

type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) component(ctx context.Context, c templ.Component) {
	if h.err != nil {
		return
	}
	h.err = c.Render(ctx, h.w)
}

func minutesAgo(t, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / time.Minute)
}

func ArrivalLabel(o contracts.Order, now time.Time) string {
	switch o.Arrival.State {
	case contracts.ArrivalArrived:
		if o.Arrival.ArrivedAt == nil {
			return "Arrived"
		}
		return fmt.Sprintf("Arrived %dm ago", minutesAgo(*o.Arrival.ArrivedAt, now))
	case contracts.ArrivalETA:
		return fmt.Sprintf("ETA %dm", o.Arrival.ETAMinutes)
	default:
		return "-"
	}
}

func TableLabel(table *string) string {
	if table == nil || *table == "" {
		return "Unseated"
	}
	return *table
}

func OrderCard(o contracts.Order, now time.Time) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		urgency := feed.UrgencyOf(o, now)
		h.raw(`<article class="card card-` + string(urgency) + `" data-order-id="`)
		h.text(o.ID)
		h.raw(`"><header class="card-top"><strong>#`)
		h.text(o.ID)
		h.raw(`</strong> <span class="muted">P` + strconv.Itoa(o.PartySize) + `</span><span class="table">`)
		h.text(TableLabel(o.Table))
		h.raw(`</span></header><div class="card-meta"><span>`)
		h.text(ArrivalLabel(o, now))
		h.raw(`</span>`)
		if o.Status == contracts.StatusReady {
			h.raw(`<span>Ready ` + strconv.Itoa(minutesAgo(feed.ReadySince(o), now)) + `m</span>`)
		}
		h.raw(`</div><ul class="items">`)
		for _, item := range o.Items {
			h.raw(`<li>` + strconv.Itoa(item.Qty) + `&times; `)
			h.text(item.Name)
			if item.Station != nil {
				h.raw(` <span class="badge">`)
				h.text(*item.Station)
				h.raw(`</span>`)
			}
			h.raw(`</li>`)
		}
		h.raw(`</ul>`)
		if len(o.Flags) > 0 {
			h.raw(`<div class="flags">`)
			for _, f := range o.Flags {
				h.raw(`<span class="flag">`)
				h.text(f)
				h.raw(`</span>`)
			}
			h.raw(`</div>`)
		}
		h.raw(`</article>`)
		return h.err
	})
}

func column(title string, orders []contracts.Order, now time.Time) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<section class="column"><h2>`)
		h.text(title)
		h.raw(` <span class="count">` + strconv.Itoa(len(orders)) + `</span></h2>`)
		if len(orders) == 0 {
			h.raw(`<p class="empty">No orders</p>`)
		}
		for _, o := range orders {
			h.component(ctx, OrderCard(o, now))
		}
		h.raw(`</section>`)
		return h.err
	})
}

func StatusBar(health feed.Health, now time.Time) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<div class="status status-` + strings.ToLower(string(health.Status)) + `">`)
		h.text(string(health.Status))
		h.raw(`</div><div class="subtle">Mode: `)
		h.text(string(health.Mode))
		h.raw(` | Cursor: `)
		h.text(string(health.Cursor))
		if !health.LastMessageAt.IsZero() {
			h.raw(` | Last update: `)
			h.text(health.LastMessageAt.Format("15:04:05"))
		}
		if health.LastError != "" {
			h.raw(` | Error: `)
			h.text(health.LastError)
		}
		h.raw(`</div>`)
		return h.err
	})
}

// Board is the live part of the page, re-rendered on every change.
func Board(v BoardView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<div class="statusbar">`)
		h.component(ctx, StatusBar(v.Health, v.Now))
		h.raw(`</div>`)
		if alerts := v.Alerts(); len(alerts) > 0 {
			h.raw(`<ul class="alerts">`)
			for _, a := range alerts {
				h.raw(`<li class="alert alert-` + string(a.Severity) + `"><strong>`)
				h.text(a.Title)
				h.raw(`</strong> #`)
				h.text(a.OrderID)
				h.raw(` &middot; `)
				h.text(TableLabel(a.Table))
				h.raw(` &middot; ` + strconv.Itoa(a.Minutes) + `m</li>`)
			}
			h.raw(`</ul>`)
		}
		h.raw(`<div class="columns">`)
		h.component(ctx, column("Incoming", v.Orders.Incoming, v.Now))
		h.component(ctx, column("Preparing", v.Orders.Preparing, v.Now))
		h.component(ctx, column("Ready", v.Orders.Ready, v.Now))
		h.raw(`</div>`)
		return h.err
	})
}

const boardScript = `<script>
const board = document.getElementById("board");
const source = new EventSource("/events");
source.addEventListener("board", (e) => { board.innerHTML = e.data; });
</script>`

func BoardPage(v BoardView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		title := v.Title
		if title == "" {
			title = "Arrival-Aware Tablet"
		}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
		h.text(title)
		h.raw(`</title><link rel="stylesheet" href="/static/styles.css"></head><body><header class="header"><h1>`)
		h.text(title)
		h.raw(`</h1></header><main id="board">`)
		h.component(ctx, Board(v))
		h.raw(`</main>` + boardScript + `</body></html>`)
		return h.err
	})
}
