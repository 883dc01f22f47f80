package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aadi/tabletsync/internal/app/feed"
	"github.com/aadi/tabletsync/internal/contracts"
	"github.com/aadi/tabletsync/internal/platform/env"
	"github.com/aadi/tabletsync/internal/platform/metrics"
)

type config struct {
	APIBase                  string
	Tablets                  int
	Guests                   int
	StartupWait              time.Duration
	Duration                 time.Duration
	RampUp                   time.Duration
	ActionsPerGuestPerSecond float64
	RequestTimeout           time.Duration
	MetricsAddr              string
}

// simulatedGuest injects orders and walks them through the kitchen.
type simulatedGuest struct {
	Index int

	mu     sync.Mutex
	orders []string
}

type runner struct {
	cfg       config
	runID     string
	apiClient *http.Client
	seq       atomic.Int64

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeGuests    atomic.Int64
}

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "tabletsync_loadgen_requests_total",
		Help: "HTTP requests sent by the load generator.",
	}, []string{"endpoint", "method", "status", "outcome"})

	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "tabletsync_loadgen_actions_total",
		Help: "Guest actions executed by the load generator.",
	}, []string{"action", "outcome"})

	activeGuestsGauge = metrics.NewGauge(metrics.Opts{
		Name: "tabletsync_loadgen_guests",
		Help: "Guests currently sending actions.",
	})

	liveTabletsGauge = metrics.NewGauge(metrics.Opts{
		Name: "tabletsync_loadgen_live_tablets",
		Help: "Simulated tablets whose feed is LIVE.",
	})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, actionsTotal, activeGuestsGauge, liveTabletsGauge)
}

func main() {
	env.LoadDotEnv()
	cfg := loadConfig()
	if cfg.Guests <= 0 && cfg.Tablets <= 0 {
		log.Fatal("LOADGEN_GUESTS or LOADGEN_TABLETS must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr)

	transport := &http.Transport{
		MaxIdleConns:        (cfg.Guests + cfg.Tablets) * 4,
		MaxIdleConnsPerHost: (cfg.Guests + cfg.Tablets) * 4,
		IdleConnTimeout:     90 * time.Second,
	}

	r := &runner{
		cfg:   cfg,
		runID: strconv.FormatInt(time.Now().UTC().Unix(), 10),
		apiClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
	}

	if err := r.waitForHTTPStatus(ctx, cfg.APIBase+"/readyz", http.StatusOK, cfg.StartupWait); err != nil {
		log.Fatalf("tablet-api not ready: %v", err)
	}

	tablets := r.startTablets(ctx, &http.Client{Transport: transport})
	log.Printf("load generator started: tablets=%d guests=%d duration=%s rate_per_guest=%.2f req/s",
		len(tablets), cfg.Guests, cfg.Duration.String(), cfg.ActionsPerGuestPerSecond)

	go r.logProgress(ctx, tablets)

	var wg sync.WaitGroup
	for idx := 0; idx < cfg.Guests; idx++ {
		wg.Add(1)
		go func(g *simulatedGuest) {
			defer wg.Done()
			r.runGuest(ctx, g)
		}(&simulatedGuest{Index: idx})
	}

	<-ctx.Done()
	wg.Wait()
	for _, tablet := range tablets {
		tablet.Stop()
	}

	log.Printf("load test complete: success_requests=%d error_requests=%d",
		r.requestsSuccess.Load(), r.requestsError.Load())
}

func loadConfig() config {
	return config{
		APIBase:                  strings.TrimRight(env.String("LOADGEN_API_BASE", env.DefaultAPIBase), "/"),
		Tablets:                  env.Int("LOADGEN_TABLETS", 20),
		Guests:                   env.Int("LOADGEN_GUESTS", 50),
		StartupWait:              env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                 env.Duration("LOADGEN_DURATION", 10*time.Minute),
		RampUp:                   env.Duration("LOADGEN_RAMP_UP", 30*time.Second),
		ActionsPerGuestPerSecond: floatEnv("LOADGEN_ACTIONS_PER_GUEST_PER_SECOND", 0.3),
		RequestTimeout:           env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:              env.String("LOADGEN_METRICS_ADDR", ":9099"),
	}
}

// startTablets runs one feed engine per simulated tablet.
func (r *runner) startTablets(ctx context.Context, client *http.Client) []*feed.Engine {
	tablets := make([]*feed.Engine, 0, r.cfg.Tablets)
	for i := 0; i < r.cfg.Tablets; i++ {
		engine := feed.New(feed.Config{
			StreamURL: r.cfg.APIBase + "/tablet/stream",
			PollURL:   r.cfg.APIBase + "/tablet/orders",
			Client:    client,
		})
		engine.Start(ctx)
		tablets = append(tablets, engine)
	}
	return tablets
}

func (r *runner) waitForHTTPStatus(ctx context.Context, requestURL string, expectedStatus int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return err
		}
		resp, err := r.apiClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == expectedStatus {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) runGuest(ctx context.Context, guest *simulatedGuest) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration((float64(r.cfg.RampUp) / float64(max(r.cfg.Guests, 1))) * float64(guest.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	activeGuestsGauge.Inc()
	r.activeGuests.Add(1)
	defer activeGuestsGauge.Dec()
	defer r.activeGuests.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerGuestPerSecond > 0 {
		interval = max(time.Duration(float64(time.Second)/r.cfg.ActionsPerGuestPerSecond), 25*time.Millisecond)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(guest.Index*7)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rng.Int63n(int64(interval)))):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, guest, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, guest *simulatedGuest, rng *rand.Rand) {
	orderID, hasOrder := guest.randomOrder(rng)

	choice := rng.Float64()
	switch {
	case !hasOrder || choice < 0.40:
		r.injectOrder(ctx, guest, rng)
	case choice < 0.85:
		r.advanceOrder(ctx, guest, orderID)
	default:
		r.clearOrder(ctx, guest, orderID)
	}
}

func (r *runner) injectOrder(ctx context.Context, guest *simulatedGuest, rng *rand.Rand) {
	id := fmt.Sprintf("G%s-%d", r.runID, r.seq.Add(1))
	arrival := contracts.ETA(1 + rng.Intn(20))
	req := contracts.InjectRequest{
		GuestOrderID: id,
		RestaurantID: "load-test",
		PartySize:    1 + rng.Intn(6),
		Items:        []contracts.Item{{Name: fmt.Sprintf("Load Dish %d", rng.Intn(40)), Qty: 1 + rng.Intn(3)}},
		Flags:        []string{"GUEST_APP"},
		Arrival:      &arrival,
	}
	var resp contracts.InjectResponse
	if _, err := r.requestJSON(ctx, "inject", http.MethodPost, r.cfg.APIBase+"/tablet/inject", req, &resp, http.StatusOK); err != nil {
		actionsTotal.WithLabelValues("inject", "error").Inc()
		return
	}
	guest.addOrder(resp.ID)
	actionsTotal.WithLabelValues("inject", "success").Inc()
}

// advanceOrder moves an order one step forward and forgets it once READY.
func (r *runner) advanceOrder(ctx context.Context, guest *simulatedGuest, orderID string) {
	var current contracts.GuestOrderResponse
	if _, err := r.requestJSON(ctx, "guest_order", http.MethodGet, r.cfg.APIBase+"/guest/order/"+url.PathEscape(orderID), nil, &current, http.StatusOK); err != nil {
		actionsTotal.WithLabelValues("advance", "error").Inc()
		return
	}
	if !current.Found || current.Order == nil {
		guest.removeOrder(orderID)
		actionsTotal.WithLabelValues("advance", "gone").Inc()
		return
	}

	next := contracts.StatusPreparing
	if current.Order.Status != contracts.StatusIncoming {
		next = contracts.StatusReady
	}
	table := fmt.Sprintf("T%d", 1+guest.Index%30)
	var updated contracts.Order
	if _, err := r.requestJSON(ctx, "status", http.MethodPost, r.cfg.APIBase+"/tablet/orders/"+url.PathEscape(orderID)+"/status",
		map[string]any{"status": next, "table": table}, &updated, http.StatusOK); err != nil {
		actionsTotal.WithLabelValues("advance", "error").Inc()
		return
	}
	if updated.Status == contracts.StatusReady {
		guest.removeOrder(orderID)
	}
	actionsTotal.WithLabelValues("advance", "success").Inc()
}

func (r *runner) clearOrder(ctx context.Context, guest *simulatedGuest, orderID string) {
	if _, err := r.requestJSON(ctx, "delete", http.MethodDelete, r.cfg.APIBase+"/tablet/orders/"+url.PathEscape(orderID), nil, nil,
		http.StatusNoContent, http.StatusNotFound); err != nil {
		actionsTotal.WithLabelValues("delete", "error").Inc()
		return
	}
	guest.removeOrder(orderID)
	actionsTotal.WithLabelValues("delete", "success").Inc()
}

func (r *runner) requestJSON(ctx context.Context, endpoint, method, requestURL string, payload any, out any, expectedStatuses ...int) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, method, "0", "error").Inc()
		r.requestsError.Add(1)
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(resp.Body)
	statusText := strconv.Itoa(resp.StatusCode)
	if readErr != nil {
		requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
		r.requestsError.Add(1)
		return resp.StatusCode, readErr
	}

	if isExpectedStatus(resp.StatusCode, expectedStatuses) {
		requestsTotal.WithLabelValues(endpoint, method, statusText, "success").Inc()
		r.requestsSuccess.Add(1)
		if out != nil && len(responseBody) > 0 && resp.StatusCode < 300 {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}

	requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
	r.requestsError.Add(1)
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
}

func (r *runner) logProgress(ctx context.Context, tablets []*feed.Engine) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			live, polling := 0, 0
			for _, tablet := range tablets {
				h := tablet.Health()
				if h.Status == feed.StatusLive {
					live++
				}
				if h.Mode == feed.ModePoll {
					polling++
				}
			}
			liveTabletsGauge.Set(float64(live))
			log.Printf("progress: success_requests=%d error_requests=%d active_guests=%d live_tablets=%d/%d polling=%d",
				r.requestsSuccess.Load(),
				r.requestsError.Load(),
				r.activeGuests.Load(),
				live, len(tablets), polling,
			)
		}
	}
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("load generator metrics endpoint listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("load generator metrics server failed: %v", err)
	}
}

func (g *simulatedGuest) addOrder(orderID string) {
	if strings.TrimSpace(orderID) == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, orderID)
}

func (g *simulatedGuest) randomOrder(rng *rand.Rand) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.orders) == 0 {
		return "", false
	}
	return g.orders[rng.Intn(len(g.orders))], true
}

func (g *simulatedGuest) removeOrder(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for idx, existing := range g.orders {
		if existing != orderID {
			continue
		}
		g.orders[idx] = g.orders[len(g.orders)-1]
		g.orders = g.orders[:len(g.orders)-1]
		return
	}
}

func isExpectedStatus(status int, expected []int) bool {
	for _, candidate := range expected {
		if status == candidate {
			return true
		}
	}
	return false
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}

func floatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
