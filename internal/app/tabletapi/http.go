package tabletapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aadi/tabletsync/internal/app/orders"
	"github.com/aadi/tabletsync/internal/contracts"
	"github.com/aadi/tabletsync/internal/platform/metrics"
	"github.com/go-chi/chi/v5"
)

const defaultRetryHint = 2 * time.Second

type Handler struct {
	Orders        *orders.Collection
	AllowedOrigin string
	// RetryHint is sent as the SSE retry: field on every new stream.
	RetryHint time.Duration
	// Ready reports dependency health for /readyz. Nil means always ready.
	Ready  func() error
	Logger *slog.Logger
}

func NewHandler(collection *orders.Collection, allowedOrigin string) *Handler {
	return &Handler{
		Orders:        collection,
		AllowedOrigin: allowedOrigin,
		RetryHint:     defaultRetryHint,
		Logger:        slog.Default(),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.DefaultHandler())

	r.Get("/tablet/orders", h.handleRead)
	r.Get("/tablet/stream", h.handleStream)
	r.Post("/tablet/inject", h.handleInject)
	r.Delete("/tablet/orders/{orderID}", h.handleDelete)
	r.Post("/tablet/orders/{orderID}/status", h.handleStatus)
	r.Get("/guest/order/{orderID}", h.handleGuestOrder)

	return r
}

func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	since := contracts.Cursor(strings.TrimSpace(r.URL.Query().Get("cursor")))
	h.writeJSON(w, http.StatusOK, h.Orders.Read(since))
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.Orders.Subscribe()
	defer h.Orders.Unsubscribe(sub)
	h.Logger.Info("stream subscriber connected", "subscriber_id", sub.ID(), "remote", r.RemoteAddr)

	if h.RetryHint > 0 {
		fmt.Fprintf(w, "retry: %d\n\n", h.RetryHint.Milliseconds())
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			h.Logger.Info("stream subscriber disconnected", "subscriber_id", sub.ID())
			return
		case e, open := <-sub.Events():
			if !open {
				h.Logger.Info("stream subscription closed", "subscriber_id", sub.ID())
				return
			}
			if err := writeEvent(w, e); err != nil {
				h.Logger.Warn("stream write failed", "subscriber_id", sub.ID(), "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e contracts.Event) error {
	name, data, err := contracts.EncodeEvent(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func (h *Handler) handleInject(w http.ResponseWriter, r *http.Request) {
	var req contracts.InjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	res, err := h.Orders.Inject(req)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrInvalidInject), errors.Is(err, contracts.ErrInvalidOrder):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, orders.ErrIDConflict):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, contracts.InjectResponse{OK: true, ID: res.Order.ID})
}

func (h *Handler) handleGuestOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	order, ok := h.Orders.Get(id)
	if !ok {
		h.writeJSON(w, http.StatusOK, contracts.GuestOrderResponse{Found: false})
		return
	}
	h.writeJSON(w, http.StatusOK, contracts.GuestOrderResponse{Found: true, Order: &order})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	if !h.Orders.Delete(id) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status contracts.Status `json:"status"`
	Table  *string          `json:"table,omitempty"`
}

var errStatusRegression = errors.New("status can only move forward")

func statusRank(s contracts.Status) int {
	switch s {
	case contracts.StatusIncoming:
		return 0
	case contracts.StatusPreparing:
		return 1
	case contracts.StatusReady:
		return 2
	default:
		return -1
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if !req.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	order, err := h.Orders.Update(id, func(o *contracts.Order) error {
		if statusRank(req.Status) < statusRank(o.Status) {
			return errStatusRegression
		}
		o.Status = req.Status
		if req.Table != nil {
			table := strings.TrimSpace(*req.Table)
			o.Table = &table
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, errStatusRegression):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, contracts.ErrInvalidOrder):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}
	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

// localhost, 127.0.0.1 and ::1 on the same scheme and port count as one origin.
func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	return a.Port() == b.Port() && strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
