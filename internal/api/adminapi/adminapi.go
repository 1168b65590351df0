package adminapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/logging"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/realtime"
	"github.com/BearBump/DispatchBox/internal/services/admin"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type AdminService interface {
	CreateDriver(ctx context.Context, in models.DriverCreateInput) (string, error)
	ListDrivers(ctx context.Context) ([]models.DriverSummary, error)
	UpdateDriver(ctx context.Context, id string, p models.DriverPatch) (models.Driver, error)
	DeleteDriver(ctx context.Context, id string) error
	CreateLoad(ctx context.Context, in models.LoadCreateInput) (gateway.Row, error)
	UpdateLoad(ctx context.Context, id string, p models.LoadPatch) (models.Load, error)
	DeleteLoad(ctx context.Context, id string) error
	SetLoadStatus(ctx context.Context, id, status string) (models.Load, error)
	AssignDriver(ctx context.Context, id, driverID string) (models.Load, error)
	UnassignDriver(ctx context.Context, id string) (models.Load, error)
	ApproveStopRequest(ctx context.Context, id string) (models.TrackingStopRequest, error)
}

// ConsoleReader serves the mirrored views.
type ConsoleReader interface {
	Snapshot(table gateway.Table) (any, error)
	SearchLoads(term, status string) []models.Load
	LoadMetrics() models.LoadMetrics
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type API struct {
	svc     AdminService
	console ConsoleReader
	live    http.Handler

	rl        RateLimiter
	limit     int64
	onLimited func(path string)
}

type Option func(*API)

// WithRateLimit caps write requests per client per minute. A nil limiter or a
// non-positive limit disables it.
func WithRateLimit(rl RateLimiter, perMinute int) Option {
	return func(a *API) {
		a.rl = rl
		a.limit = int64(perMinute)
	}
}

func WithLimitObserver(fn func(path string)) Option {
	return func(a *API) { a.onLimited = fn }
}

func WithLiveFeed(h http.Handler) Option {
	return func(a *API) { a.live = h }
}

func New(svc AdminService, console ConsoleReader, opts ...Option) *API {
	a := &API{svc: svc, console: console}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Routes is meant to be mounted at /api/admin.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/list-drivers", a.listDrivers)
	r.Get("/views/{table}", a.view)
	r.Get("/metrics", a.metrics)
	if a.live != nil {
		r.Handle("/live", a.live)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.rateLimit)

		r.Post("/create-driver", a.createDriver)
		r.Post("/create-load", a.createLoad)

		r.Patch("/drivers/{id}", a.updateDriver)
		r.Delete("/drivers/{id}", a.deleteDriver)

		r.Patch("/loads/{id}", a.updateLoad)
		r.Delete("/loads/{id}", a.deleteLoad)
		r.Post("/loads/{id}/status", a.setLoadStatus)
		r.Post("/loads/{id}/assign", a.assignDriver)
		r.Post("/loads/{id}/unassign", a.unassignDriver)

		r.Post("/tracking-requests/{id}/approve", a.approveStopRequest)
	})
	return r
}

func (a *API) createDriver(w http.ResponseWriter, r *http.Request) {
	var in models.DriverCreateInput
	if !decode(w, r, &in) {
		return
	}
	userID, err := a.svc.CreateDriver(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "userId": userID})
}

func (a *API) createLoad(w http.ResponseWriter, r *http.Request) {
	var in models.LoadCreateInput
	if !decode(w, r, &in) {
		return
	}
	load, err := a.svc.CreateLoad(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "load": load})
}

func (a *API) listDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := a.svc.ListDrivers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (a *API) updateDriver(w http.ResponseWriter, r *http.Request) {
	var p models.DriverPatch
	if !decode(w, r, &p) {
		return
	}
	d, err := a.svc.UpdateDriver(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "driver": d})
}

func (a *API) deleteDriver(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteDriver(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) updateLoad(w http.ResponseWriter, r *http.Request) {
	var p models.LoadPatch
	if !decode(w, r, &p) {
		return
	}
	l, err := a.svc.UpdateLoad(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "load": l})
}

func (a *API) deleteLoad(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteLoad(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) setLoadStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	l, err := a.svc.SetLoadStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "load": l})
}

func (a *API) assignDriver(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	l, err := a.svc.AssignDriver(r.Context(), chi.URLParam(r, "id"), body.DriverID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "load": l})
}

func (a *API) unassignDriver(w http.ResponseWriter, r *http.Request) {
	l, err := a.svc.UnassignDriver(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "load": l})
}

func (a *API) approveStopRequest(w http.ResponseWriter, r *http.Request) {
	req, err := a.svc.ApproveStopRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "request": req})
}

func (a *API) view(w http.ResponseWriter, r *http.Request) {
	table := gateway.Table(chi.URLParam(r, "table"))
	var rows any
	if table == gateway.TableLoads {
		rows = a.console.SearchLoads(r.URL.Query().Get("q"), r.URL.Query().Get("status"))
	} else {
		var err error
		if rows, err = a.console.Snapshot(table); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "rows": rows})
}

func (a *API) metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.console.LoadMetrics())
}

// rateLimit is a fixed window per client address. It fails open when the
// limiter is missing or unreachable.
func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.rl == nil || a.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := "writes:" + clientIP(r)
		allowed, n, err := a.rl.Allow(r.Context(), key, a.limit, time.Minute)
		if err != nil {
			logging.FromContext(r.Context()).Warn("rate limit check failed", "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			logging.FromContext(r.Context()).Warn("rate limit exceeded", "key", key, "count", n)
			if a.onLimited != nil {
				a.onLimited(r.URL.Path)
			}
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorBody struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("admin request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func classify(err error) (int, string) {
	var ve *admin.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ve.Msg
	}
	if errors.Is(err, models.ErrIllegalTransition) {
		return http.StatusConflict, err.Error()
	}
	if errors.Is(err, realtime.ErrUnknownView) {
		return http.StatusNotFound, err.Error()
	}
	msg := err.Error()
	var ge *gateway.Error
	if errors.As(err, &ge) {
		msg = ge.Msg
	}
	if errors.Is(err, gateway.ErrNotFound) {
		return http.StatusNotFound, msg
	}
	return http.StatusInternalServerError, msg
}

// writeJSON encodes before writing the header so an unencodable value becomes a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode json response", "err", err)
		status = http.StatusInternalServerError
		b = []byte(`{"error":"Failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(b, '\n')); err != nil {
		slog.Warn("write json response", "err", err)
	}
}
