package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/a-h/templ"
	"github.com/aadi/tabletsync/internal/app/feed"
	"github.com/aadi/tabletsync/internal/platform/env"
	"github.com/aadi/tabletsync/internal/platform/metrics"
	"github.com/aadi/tabletsync/services/frontend"
	"github.com/go-chi/chi/v5"
)

func main() {
	env.LoadDotEnv()
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("DASHBOARD_ADDR", env.DefaultDashboardAddr)
	apiBase := strings.TrimRight(env.String("TABLET_API_BASE", env.DefaultAPIBase), "/")
	title := env.String("DASHBOARD_TITLE", "Arrival-Aware Tablet")
	refreshEvery := env.Duration("DASHBOARD_REFRESH", 15*time.Second)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	engine := feed.New(feed.Config{
		StreamURL:           apiBase + "/tablet/stream",
		PollURL:             apiBase + "/tablet/orders",
		PollInterval:        env.Duration("FEED_POLL_INTERVAL", feed.DefaultPollInterval),
		StaleWindow:         env.Duration("FEED_STALE_WINDOW", feed.DefaultStaleWindow),
		StreamRetryInterval: env.Duration("FEED_STREAM_RETRY", feed.DefaultStreamRetryInterval),
		RequestTimeout:      env.Duration("FEED_REQUEST_TIMEOUT", feed.DefaultStaleWindow),
		MaxEventSize:        env.Int("FEED_MAX_EVENT_SIZE", feed.DefaultMaxEventSize),
	})
	registerFeedMetrics(engine)

	hub := newBoardHub()
	view := func() frontend.BoardView {
		return frontend.BoardView{
			Title:  title,
			Orders: engine.View(),
			Health: engine.Health(),
			Now:    time.Now().UTC(),
		}
	}
	publish := func() {
		fragment, err := frontend.RenderString(runCtx, frontend.Board(view()))
		if err != nil {
			log.Printf("board render failed: %v", err)
			return
		}
		hub.Publish(strings.ReplaceAll(fragment, "\n", ""))
	}

	engine.Start(runCtx)
	go func() {
		// Minute labels age even when nothing changes.
		ticker := time.NewTicker(refreshEvery)
		defer ticker.Stop()
		publish()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-engine.Changes():
				publish()
			case <-ticker.C:
				publish()
			}
		}
	}()

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if status := engine.Status(); status == feed.StatusOffline {
			http.Error(w, "feed is offline", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", metrics.DefaultHandler())
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		templ.Handler(frontend.BoardPage(view())).ServeHTTP(w, r)
	})
	router.Handle("/static/*", http.StripPrefix("/static/", frontend.StaticHandler()))
	router.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		id, fragments := hub.Subscribe()
		defer hub.Unsubscribe(id)
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case fragment := <-fragments:
				fmt.Fprint(w, "event: board\n")
				fmt.Fprintf(w, "data: %s\n\n", fragment)
				flusher.Flush()
			}
		}
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Tablet dashboard listening on %s (feed %s)\n", addr, apiBase)
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

	engine.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("tablet-dashboard graceful shutdown failed: %v", err)
	}
}

func registerFeedMetrics(engine *feed.Engine) {
	metrics.Default.MustRegister(
		metrics.NewGaugeFunc(metrics.Opts{
			Name: "tabletsync_feed_live",
			Help: "1 while the feed status is LIVE.",
		}, func() float64 {
			if engine.Status() == feed.StatusLive {
				return 1
			}
			return 0
		}),
		metrics.NewGaugeFunc(metrics.Opts{
			Name: "tabletsync_feed_polling",
			Help: "1 while the feed is in polling mode.",
		}, func() float64 {
			if engine.Mode() == feed.ModePoll {
				return 1
			}
			return 0
		}),
		metrics.NewGaugeFunc(metrics.Opts{
			Name: "tabletsync_feed_failures",
			Help: "Consecutive feed failures.",
		}, func() float64 {
			return float64(engine.Health().Failures)
		}),
	)
}
