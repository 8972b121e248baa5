package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"prtgalert/internal/logger"
	"prtgalert/internal/middleware"
	"prtgalert/internal/report"
)

// ReportSource produces on-demand status reports.
type ReportSource interface {
	Generate(ctx context.Context) (*report.Report, error)
}

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsFunc returns a JSON-encodable snapshot of runtime statistics.
type StatsFunc func() any

// StatusHandler serves the read-only status API.
type StatusHandler struct {
	reports ReportSource
	store   Pinger
	stats   StatsFunc
	timeout time.Duration
}

// StatusConfig holds configuration for the status handler
type StatusConfig struct {
	Reports ReportSource
	Store   Pinger
	Stats   StatsFunc
	// Timeout bounds each store query.
	Timeout time.Duration
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(cfg StatusConfig) *StatusHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &StatusHandler{
		reports: cfg.Reports,
		store:   cfg.Store,
		stats:   cfg.Stats,
		timeout: cfg.Timeout,
	}
}

// NewRouter wires the status endpoints behind recovery, request logging and CORS.
func NewRouter(h *StatusHandler, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/report", h.Report).Methods(http.MethodGet)
	r.HandleFunc("/report.txt", h.ReportText).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	})

	return middleware.Chain(c.Handler(r), middleware.Recovery, middleware.Logging)
}

// Report returns the current status report as JSON.
func (h *StatusHandler) Report(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rep, err := h.reports.Generate(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ReportText returns the report rendered exactly as it is pushed.
func (h *StatusHandler) ReportText(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rep, err := h.reports.Generate(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(rep.Text()))
}

// Health reports whether the sensor store answers.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Stats returns loop and dispatcher statistics.
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, h.stats())
}

func (h *StatusHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.WithComponent("http")
	log.Error().
		Err(err).
		Str("request_id", r.Header.Get(middleware.RequestIDHeader)).
		Str("path", r.URL.Path).
		Msg("status request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   "failed to read sensor state",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
