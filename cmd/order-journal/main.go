package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aadi/tabletsync/internal/app/journal"
	"github.com/aadi/tabletsync/internal/messaging"
	"github.com/aadi/tabletsync/internal/platform/dbpool"
	"github.com/aadi/tabletsync/internal/platform/env"
	"github.com/aadi/tabletsync/internal/platform/metrics"
	"github.com/aadi/tabletsync/internal/platform/natsutil"
	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
)

var handledTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "tabletsync_journal_messages_total",
	Help: "Mirrored events handled by the journal, by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(handledTotal)
}

func main() {
	env.LoadDotEnv()
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	addr := env.String("JOURNAL_ADDR", ":8091")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	repository := journal.NewEventRepository(pool)
	if err := dbpool.WaitReady(runCtx, pool, repository.EnsureSchema, 30*time.Second); err != nil {
		log.Fatal(err)
	}
	service := journal.NewService(repository)

	client, err := natsutil.ConnectJetStreamWithRetry(natsURL, env.Duration("NATS_CONNECT_TIMEOUT", 20*time.Second), nats.Name("order-journal"))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	sub, err := client.JS.QueueSubscribe(messaging.OrderEventsFilter, "order-journal", func(msg *nats.Msg) {
		var eventSeq uint64
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			eventSeq = meta.Sequence.Stream
		}

		insertCtx, cancel := context.WithTimeout(runCtx, 3*time.Second)
		defer cancel()
		if err := service.Handle(insertCtx, msg.Data, eventSeq); err != nil {
			if errors.Is(err, journal.ErrInvalidEventPayload) {
				log.Printf("discarding invalid event payload: %v", err)
				handledTotal.WithLabelValues("invalid").Inc()
				_ = msg.Term()
				return
			}
			if errors.Is(err, journal.ErrUnsupportedEventType) {
				log.Printf("discarding unsupported event type: %v", err)
				handledTotal.WithLabelValues("unsupported").Inc()
				_ = msg.Term()
				return
			}
			log.Printf("event persistence failed: %v", err)
			handledTotal.WithLabelValues("retry").Inc()
			_ = msg.Nak()
			return
		}

		handledTotal.WithLabelValues("stored").Inc()
		_ = msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := client.Ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		checkCtx, cancel := context.WithTimeout(r.Context(), 1500*time.Millisecond)
		defer cancel()
		if err := pool.Ping(checkCtx); err != nil {
			http.Error(w, fmt.Sprintf("postgres ping failed: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", metrics.DefaultHandler())
	router.Get("/journal/orders", func(w http.ResponseWriter, r *http.Request) {
		orders, err := service.Orders(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Println("Order journal listening on subject:", sub.Subject)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("order-journal graceful shutdown failed: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
