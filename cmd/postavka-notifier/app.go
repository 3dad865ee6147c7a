package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/PostavkaBox/internal/services/dispatch"
	"github.com/BearBump/PostavkaBox/internal/services/postavki"
	"github.com/go-chi/chi/v5"
)

type notifierOpts struct {
	httpAddr string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runNotifier(ctx context.Context, opts notifierOpts, svc *postavki.Service, d *dispatch.Dispatcher, consumer kafkaConsumer) error {
	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(httpLis.Addr().String())
	}

	dispatcherDone := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(dispatcherDone)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runNotifierHTTPServer(ctx, httpLis, svc, d)
	}()

	consumerErr := make(chan error, 1)
	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		consumerErr <- consumer.Consume(ctx, func(_key, value []byte) error {
			return svc.ApplyCycleMessage(ctx, value)
		})
	}()

	select {
	case <-ctx.Done():
		<-dispatcherDone
		return ctx.Err()
	case err := <-httpErr:
		if err != nil {
			return err
		}
		// HTTP-сервер гасится только отменой контекста.
		<-dispatcherDone
		return ctx.Err()
	case err := <-consumerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-dispatcherDone
		return ctx.Err()
	}
}

func runNotifierHTTPServer(ctx context.Context, lis net.Listener, svc *postavki.Service, d *dispatch.Dispatcher) error {
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
		if d == nil {
			_, _ = w.Write([]byte(`{"error":"dispatcher not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(d.Stats())
	})

	// Текущее состояние поставки из кэша, без похода в Postgres.
	r.Get("/postavki/current", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		pvs := req.URL.Query().Get("pvs")
		report := req.URL.Query().Get("report")
		if pvs == "" || report == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"pvs and report query params are required"}`))
			return
		}
		b, ok, err := svc.CurrentState(req.Context(), pvs, report)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"cache unavailable"}`))
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not cached"}`))
			return
		}
		_, _ = w.Write(b)
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("notifier HTTP listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
