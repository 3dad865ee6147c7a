package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/PostavkaBox/config"
	"github.com/BearBump/PostavkaBox/internal/services/collector"
	"github.com/go-chi/chi/v5"
)

type collectorHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	collector *collector.Collector
	cfg       *config.Config
}

func runCollectorHTTPServer(ctx context.Context, opts collectorHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8081"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.collector == nil {
			_, _ = w.Write([]byte(`{"error":"collector not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.collector.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Avoid dumping secrets; show only operational collector settings.
		out := map[string]any{
			"instances":           opts.cfg.PostavkaBox.Instances,
			"portalMode":          opts.cfg.PostavkaBox.PortalMode,
			"pollIntervalSeconds": opts.cfg.PostavkaBox.CollectorPollIntervalSeconds,
			"concurrency":         opts.cfg.PostavkaBox.CollectorConcurrency,
			"fetchTimeoutSeconds": opts.cfg.PostavkaBox.CollectorFetchTimeoutSeconds,
			"cycleBudgetSeconds":  opts.cfg.PostavkaBox.CollectorCycleBudgetSeconds,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.collector == nil {
			_, _ = w.Write([]byte(`{"error":"collector not wired"}`))
			return
		}
		opts.collector.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
