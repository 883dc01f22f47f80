package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aadi/tabletsync/internal/app/orders"
	"github.com/aadi/tabletsync/internal/app/tabletapi"
	"github.com/aadi/tabletsync/internal/platform/env"
	"github.com/aadi/tabletsync/internal/platform/natsutil"
	"github.com/nats-io/nats.go"
)

func main() {
	env.LoadDotEnv()
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("TABLET_API_ADDR", env.DefaultAPIAddr)
	uiOrigin := env.String("UI_ORIGIN", "http://localhost:8090")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	collection := orders.NewCollection()
	if env.Bool("TABLET_SEED_DEMO", true) {
		if err := collection.Seed(orders.DemoOrders(time.Now().UTC())...); err != nil {
			log.Fatal(err)
		}
	}
	go collection.RunHeartbeat(runCtx, env.Duration("TABLET_HEARTBEAT", 10*time.Second))

	if env.Bool("TABLET_SIMULATE", true) {
		sim := orders.NewSimulator(collection, time.Now().UnixNano())
		go sim.Run(runCtx, env.Duration("TABLET_SIMULATE_EVERY", 8*time.Second))
	}

	handler := tabletapi.NewHandler(collection, uiOrigin)

	if env.Bool("TABLET_MIRROR_NATS", false) {
		client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), env.Duration("NATS_CONNECT_TIMEOUT", 20*time.Second), nats.Name("tablet-api"))
		if err != nil {
			log.Fatal(err)
		}
		defer client.Close()

		publisher := natsutil.JetStreamPublisher{JS: client.JS}
		mirror := orders.NewMirror(publisher.Publish)
		go mirror.Run(runCtx, collection)
		handler.Ready = client.Ready
		slog.Info("mirroring order events to jetstream")
	}

	// No WriteTimeout: /tablet/stream holds the response open.
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Tablet API listening on %s\n", addr)
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

	// Ends open streams so Shutdown does not wait on them.
	collection.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("tablet-api graceful shutdown failed: %v", err)
	}
}
