package guest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aadi/tabletsync/internal/app/orders"
	"github.com/aadi/tabletsync/internal/app/tabletapi"
	"github.com/aadi/tabletsync/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func firedOrder() Order {
	created := time.Date(2026, 3, 1, 17, 50, 0, 0, time.UTC)
	fired := created.Add(8 * time.Minute)
	return Order{
		ID:           "G1772387400-ab12",
		RestaurantID: "taco-town",
		State:        StateFired,
		Cart:         Cart{Items: tacos},
		CreatedAt:    created,
		FiredAt:      &fired,
	}
}

func TestInjectRequest_Payload(t *testing.T) {
	o := firedOrder()
	req := InjectRequest(o, time.Now())

	assert.Equal(t, o.ID, req.GuestOrderID)
	assert.Equal(t, 2, req.PartySize)
	assert.Nil(t, req.Table)
	require.NotNil(t, req.FiredAt)
	assert.True(t, req.FiredAt.Equal(*o.FiredAt))
	require.NotNil(t, req.Arrival)
	assert.Equal(t, contracts.ArrivalArrived, req.Arrival.State)
	assert.True(t, req.Arrival.ArrivedAt.Equal(*o.FiredAt))
	assert.Equal(t, []contracts.Item{{Name: "Carnitas Taco", Qty: 2}}, req.Items)
	assert.NotNil(t, req.Flags)
}

func TestInjectAndTrackAgainstTabletAPI(t *testing.T) {
	c := orders.NewCollection()
	srv := httptest.NewServer(tabletapi.NewHandler(c, "").Router())
	defer srv.Close()
	ctx := context.Background()

	o := firedOrder()
	resp, err := NewHTTPInjector(srv.URL).Inject(ctx, o)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, o.ID, resp.ID)

	injected, ok := c.Get(o.ID)
	require.True(t, ok)
	assert.Equal(t, contracts.StatusIncoming, injected.Status)
	assert.True(t, injected.CreatedAt.Equal(*o.FiredAt))

	tracker := NewTracker(srv.URL)
	tracker.Interval = 10 * time.Millisecond
	first := tracker.Check(ctx, o)
	require.NoError(t, first.Err)
	assert.True(t, first.Found)
	assert.Equal(t, StateFired, first.Effective)

	_, err = c.Update(o.ID, func(ord *contracts.Order) error {
		ord.Status = contracts.StatusReady
		return nil
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var last StatusReport
	require.NoError(t, tracker.Run(runCtx, o, func(r StatusReport) { last = r }))
	assert.Equal(t, StateReady, last.Effective)
}

func TestTracker_NotFoundAndErrors(t *testing.T) {
	c := orders.NewCollection()
	srv := httptest.NewServer(tabletapi.NewHandler(c, "").Router())
	defer srv.Close()

	r := NewTracker(srv.URL).Check(context.Background(), firedOrder())
	require.NoError(t, r.Err)
	assert.False(t, r.Found)
	assert.Nil(t, r.Remote)
	assert.Equal(t, StateFired, r.Effective)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer broken.Close()
	r = NewTracker(broken.URL).Check(context.Background(), firedOrder())
	assert.Error(t, r.Err)
	assert.Equal(t, StateFired, r.Effective)
}

func TestHTTPInjector_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"order id already in use"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPInjector(srv.URL).Inject(context.Background(), firedOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 409")
}
