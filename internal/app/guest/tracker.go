package guest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aadi/tabletsync/internal/app/feed"
	"github.com/aadi/tabletsync/internal/contracts"
)

const defaultTrackInterval = 2 * time.Second

type StatusReport struct {
	Found     bool
	Remote    *contracts.Order
	Effective State
	Err       error
	At        time.Time
}

// Tracker follows a fired order on the restaurant side.
type Tracker struct {
	BaseURL  string
	Client   *http.Client
	Interval time.Duration
	Backoff  func(failures int) time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

func NewTracker(baseURL string) *Tracker {
	return &Tracker{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Client:   &http.Client{Timeout: 10 * time.Second},
		Interval: defaultTrackInterval,
		Backoff:  feed.DefaultBackoff,
		Now:      time.Now,
		Logger:   slog.Default(),
	}
}

func (t *Tracker) Fetch(ctx context.Context, guestOrderID string) (contracts.GuestOrderResponse, error) {
	endpoint := t.BaseURL + "/guest/order/" + url.PathEscape(guestOrderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return contracts.GuestOrderResponse{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return contracts.GuestOrderResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return contracts.GuestOrderResponse{}, fmt.Errorf("status failed: HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out contracts.GuestOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return contracts.GuestOrderResponse{}, fmt.Errorf("decode status: %w", err)
	}
	return out, nil
}

// Check fetches the remote status once and combines it with the local state.
func (t *Tracker) Check(ctx context.Context, local Order) StatusReport {
	report := StatusReport{Effective: EffectiveState(local.State, nil), At: t.Now()}
	resp, err := t.Fetch(ctx, local.ID)
	if err != nil {
		report.Err = err
		return report
	}
	report.Found = resp.Found
	report.Remote = resp.Order
	report.Effective = EffectiveState(local.State, resp.Order)
	return report
}

// Run reports the order status every Interval until ctx ends or the order
// is READY. Failed checks are retried with backoff.
func (t *Tracker) Run(ctx context.Context, local Order, report func(StatusReport)) error {
	failures := 0
	for {
		r := t.Check(ctx, local)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report(r)

		wait := t.Interval
		if r.Err != nil {
			failures++
			wait = t.Backoff(failures)
			t.Logger.Warn("order status check failed", "order_id", local.ID, "failures", failures, "error", r.Err)
		} else {
			failures = 0
			if r.Effective == StateReady {
				return nil
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
