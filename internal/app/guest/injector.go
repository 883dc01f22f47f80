package guest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aadi/tabletsync/internal/contracts"
)

// Injector hands a fired order to the restaurant.
type Injector interface {
	Inject(ctx context.Context, order Order) (contracts.InjectResponse, error)
}

const defaultInjectPartySize = 2

// InjectRequest builds the tablet payload for a fired order. The guest is
// treated as arrived when the order fires.
func InjectRequest(o Order, now time.Time) contracts.InjectRequest {
	firedAt := now.UTC()
	if o.FiredAt != nil {
		firedAt = o.FiredAt.UTC()
	}
	createdAt := o.CreatedAt.UTC()
	partySize := o.PartySize
	if partySize <= 0 {
		partySize = defaultInjectPartySize
	}
	items := make([]contracts.Item, 0, len(o.Cart.Items))
	for _, it := range o.Cart.Items {
		items = append(items, contracts.Item{Name: it.Name, Qty: it.Qty, Station: it.Station})
	}
	flags := append([]string{}, o.Flags...)
	arrival := contracts.ArrivedAt(firedAt)

	return contracts.InjectRequest{
		GuestOrderID: o.ID,
		RestaurantID: o.RestaurantID,
		PartySize:    partySize,
		Table:        nil,
		CreatedAt:    &createdAt,
		FiredAt:      &firedAt,
		Items:        items,
		Flags:        flags,
		Arrival:      &arrival,
	}
}

// HTTPInjector posts fired orders to POST /tablet/inject.
type HTTPInjector struct {
	BaseURL string
	Client  *http.Client
	Now     func() time.Time
}

func NewHTTPInjector(baseURL string) *HTTPInjector {
	return &HTTPInjector{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
		Now:     time.Now,
	}
}

func (h *HTTPInjector) Inject(ctx context.Context, order Order) (contracts.InjectResponse, error) {
	payload, err := json.Marshal(InjectRequest(order, h.Now()))
	if err != nil {
		return contracts.InjectResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/tablet/inject", bytes.NewReader(payload))
	if err != nil {
		return contracts.InjectResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return contracts.InjectResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return contracts.InjectResponse{}, fmt.Errorf("inject failed: HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out contracts.InjectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return contracts.InjectResponse{}, fmt.Errorf("decode inject response: %w", err)
	}
	return out, nil
}
