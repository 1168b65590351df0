package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/DispatchBox/internal/api/adminapi"
	"github.com/BearBump/DispatchBox/internal/logging"
	"github.com/BearBump/DispatchBox/internal/observability/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type httpOpts struct {
	swaggerPath string

	admin   *adminapi.API
	metrics *metrics.DispatchMetrics
	ready   func(ctx context.Context) error
	stats   func() any
	trigger func()
}

func newRouter(opts httpOpts) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.WithRequestID)
	r.Use(logging.WithRequestLog("dispatch-api"))
	r.Use(opts.metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.ready(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.stats == nil {
			_, _ = w.Write([]byte(`{"error":"stats not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.stats())
	})
	r.Post("/resync", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.trigger == nil {
			_, _ = w.Write([]byte(`{"error":"resync not wired"}`))
			return
		}
		opts.trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})
	r.Handle("/metrics", opts.metrics.Handler())

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	if opts.admin != nil {
		r.Mount("/api/admin", opts.admin.Routes())
	}
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, opts httpOpts) error {
	srv := &http.Server{Handler: newRouter(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	logging.FromContext(ctx).Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		return ctx.Err()
	}
	return err
}
