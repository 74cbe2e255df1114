package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/history"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor is the read-only view of the ingestion loop served over HTTP.
type Monitor interface {
	sharedobs.ReadinessChecker
	Status() pipeline.Status
	Snapshot() map[domain.NodeID]domain.NormalizedNode
	History() map[domain.NodeID]map[domain.MetricKind][]history.Sample
	NodeHistory(id domain.NodeID) map[domain.MetricKind][]history.Sample
	MetricHistory(id domain.NodeID, m domain.MetricKind) []history.Sample
}

// AlertLister returns recently emitted alerts, newest first.
type AlertLister interface {
	List() []domain.AlertEvent
}

// Server exposes health, metrics, read APIs, and the alert stream.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires the routes. alerts is served at /ws/alerts when non-nil.
func NewServer(addr string, mon Monitor, recent AlertLister, alerts http.Handler, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(mon))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/status", handleStatus(mon))
		r.Get("/snapshot", handleSnapshot(mon))
		r.Get("/history", handleHistory(mon))
		r.Get("/history/{nodeID}", handleNodeHistory(mon))
		r.Get("/history/{nodeID}/{metric}", handleMetricHistory(mon))
		r.Get("/alerts", handleAlerts(recent))
	})

	// The websocket route stays outside the timeout middleware; its
	// connections are long lived.
	if alerts != nil {
		r.Handle("/ws/alerts", alerts)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func handleStatus(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sharedobs.WriteJSON(w, http.StatusOK, mon.Status())
	}
}

func handleSnapshot(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sharedobs.WriteJSON(w, http.StatusOK, mon.Snapshot())
	}
}

func handleHistory(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sharedobs.WriteJSON(w, http.StatusOK, mon.History())
	}
}

func handleNodeHistory(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := domain.NodeID(chi.URLParam(r, "nodeID"))
		windows := mon.NodeHistory(id)
		if len(windows) == 0 {
			writeError(w, http.StatusNotFound, "no history for node "+string(id))
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, windows)
	}
}

func handleMetricHistory(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := domain.ParseMetricKind(chi.URLParam(r, "metric"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		id := domain.NodeID(chi.URLParam(r, "nodeID"))
		sharedobs.WriteJSON(w, http.StatusOK, mon.MetricHistory(id, m))
	}
}

func handleAlerts(recent AlertLister) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		events := []domain.AlertEvent{}
		if recent != nil {
			events = recent.List()
		}
		sharedobs.WriteJSON(w, http.StatusOK, events)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
