package frontend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aadi/tabletsync/internal/app/feed"
	"github.com/aadi/tabletsync/internal/contracts"
)

func strPtr(s string) *string { return &s }

func boardFixture(now time.Time) BoardView {
	arrived := contracts.ArrivedAt(now.Add(-6 * time.Minute))
	return BoardView{
		Orders: feed.Grouped{
			Incoming: []contracts.Order{{
				ID: "A1", Status: contracts.StatusIncoming, Arrival: arrived, PartySize: 2,
				Items:     []contracts.Item{{Name: "Fish <&> Chips", Qty: 2, Station: strPtr("fry")}},
				Flags:     []string{"ALLERGY"},
				CreatedAt: now.Add(-6 * time.Minute),
			}},
			Ready: []contracts.Order{{
				ID: "A2", Status: contracts.StatusReady, Arrival: contracts.ETA(4), Table: strPtr("T3"),
				PartySize: 4, Items: []contracts.Item{{Name: "Salad", Qty: 1}},
				CreatedAt: now.Add(-20 * time.Minute), UpdatedAt: now.Add(-7 * time.Minute),
			}},
		},
		Health: feed.Health{Mode: feed.ModeStream, Status: feed.StatusLive, Cursor: contracts.NewCursor(7)},
		Now:    now,
	}
}

func TestBoardPageRendersColumnsAndAlerts(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	html, err := RenderString(context.Background(), BoardPage(boardFixture(now)))
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		"<!DOCTYPE html>",
		`href="/static/styles.css"`,
		"Incoming", "Preparing", "Ready",
		"No orders",
		"Fish &lt;&amp;&gt; Chips",
		"Arrived 6m ago",
		"ETA 4m",
		"Ready 7m",
		"Unseated",
		"T3",
		"ALLERGY",
		"card-urgent",
		`class="alerts"`,
		"LIVE",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered page missing %q", want)
		}
	}
	if strings.Contains(html, "Fish <&> Chips") {
		t.Fatalf("item name was not escaped")
	}
}

func TestStatusBarShowsLastError(t *testing.T) {
	html, err := RenderString(context.Background(), StatusBar(feed.Health{
		Mode: feed.ModePoll, Status: feed.StatusOffline, Failures: 4, LastError: "poll: 503",
	}, time.Now()))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "status-offline") || !strings.Contains(html, "poll: 503") {
		t.Fatalf("unexpected status bar: %s", html)
	}
}

func TestTableLabel(t *testing.T) {
	if got := TableLabel(nil); got != "Unseated" {
		t.Fatalf("nil table = %q", got)
	}
	if got := TableLabel(strPtr("T9")); got != "T9" {
		t.Fatalf("table = %q", got)
	}
}

func TestStaticHandlerServesStyles(t *testing.T) {
	srv := httptest.NewServer(StaticHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/styles.css")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), ".card") {
		t.Fatalf("unexpected response %d", resp.StatusCode)
	}
}
