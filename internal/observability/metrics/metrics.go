// Package metrics exposes Prometheus counters for the dispatch console.
package metrics

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DispatchMetrics implements realtime.Recorder. A nil *DispatchMetrics is a
// valid no-op recorder.
type DispatchMetrics struct {
	registry *prometheus.Registry

	changesApplied     *prometheus.CounterVec
	noticesEmitted     *prometheus.CounterVec
	sideEffectFailures *prometheus.CounterVec
	feedReconnects     prometheus.Counter
	resyncErrors       *prometheus.CounterVec
	rateLimited        *prometheus.CounterVec
	liveClients        prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

func New() (*DispatchMetrics, error) {
	registry := prometheus.NewRegistry()
	m := &DispatchMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, errors.Wrap(err, "register dispatch metrics")
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.Wrap(err, "register go collector")
	}
	return m, nil
}

func (m *DispatchMetrics) initMetrics() {
	m.changesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_changes_applied_total",
			Help: "Change events applied to a live view, by table and kind",
		},
		[]string{"table", "kind"},
	)
	m.noticesEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_notices_emitted_total",
			Help: "Toast notices emitted, by table",
		},
		[]string{"table"},
	)
	m.sideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_side_effect_failures_total",
			Help: "Failed toast, cue or push deliveries",
		},
		[]string{"effect"},
	)
	m.feedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_changefeed_reconnects_total",
			Help: "Changefeed source disconnects followed by a reconnect",
		},
	)
	m.resyncErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_resync_errors_total",
			Help: "Failed periodic view refreshes, by table",
		},
		[]string{"table"},
	)
	m.rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_rate_limited_total",
			Help: "Write requests rejected by the rate limiter",
		},
		[]string{"path"},
	)
	m.liveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_live_clients",
			Help: "Connected live console websocket clients",
		},
	)
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status_code"},
	)
	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

func (m *DispatchMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.changesApplied.Describe(ch)
	m.noticesEmitted.Describe(ch)
	m.sideEffectFailures.Describe(ch)
	m.feedReconnects.Describe(ch)
	m.resyncErrors.Describe(ch)
	m.rateLimited.Describe(ch)
	m.liveClients.Describe(ch)
	m.httpRequestsTotal.Describe(ch)
	m.httpRequestDuration.Describe(ch)
}

func (m *DispatchMetrics) Collect(ch chan<- prometheus.Metric) {
	m.changesApplied.Collect(ch)
	m.noticesEmitted.Collect(ch)
	m.sideEffectFailures.Collect(ch)
	m.feedReconnects.Collect(ch)
	m.resyncErrors.Collect(ch)
	m.rateLimited.Collect(ch)
	m.liveClients.Collect(ch)
	m.httpRequestsTotal.Collect(ch)
	m.httpRequestDuration.Collect(ch)
}

func (m *DispatchMetrics) ChangeApplied(table, kind string) {
	if m == nil {
		return
	}
	m.changesApplied.WithLabelValues(table, kind).Inc()
}

func (m *DispatchMetrics) NoticeEmitted(table string) {
	if m == nil {
		return
	}
	m.noticesEmitted.WithLabelValues(table).Inc()
}

func (m *DispatchMetrics) SideEffectFailed(effect string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(effect).Inc()
}

func (m *DispatchMetrics) FeedReconnected() {
	if m == nil {
		return
	}
	m.feedReconnects.Inc()
}

func (m *DispatchMetrics) ResyncFailed(table string) {
	if m == nil {
		return
	}
	m.resyncErrors.WithLabelValues(table).Inc()
}

func (m *DispatchMetrics) RateLimited(path string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(path).Inc()
}

func (m *DispatchMetrics) LiveClientDelta(d int) {
	if m == nil {
		return
	}
	m.liveClients.Add(float64(d))
}

// Middleware records request counts and latency by chi route pattern.
func (m *DispatchMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *DispatchMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
