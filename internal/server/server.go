package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/kai5263499/sentry-timelapse/internal/journal"
	"github.com/kai5263499/sentry-timelapse/internal/timelapse"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// StatusProvider reports the state of the running capture session.
type StatusProvider interface {
	Stats() timelapse.Stats
}

// EventLister returns recorded events, newest first.
type EventLister interface {
	Events(ctx context.Context, limit int) ([]journal.Event, error)
}

type Server struct {
	addr   string
	status StatusProvider
	events EventLister
	srv    *http.Server
}

// New builds the API server. events may be nil when the journal is disabled.
func New(addr string, status StatusProvider, events EventLister) *Server {
	return &Server{
		addr:   addr,
		status: status,
		events: events,
	}
}

// Handler returns the routed API with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/events", s.handleEvents)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Swagger UI
	mux.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	return s.corsMiddleware(mux)
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")
	return s.srv.ListenAndServe()
}

func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// CORS middleware for browser dashboards
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth godoc
// @Summary Liveness check
// @Tags System
// @Produce plain
// @Success 200 {string} string "OK"
// @Router /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStatus godoc
// @Summary Get capture loop status
// @Tags System
// @Produce json
// @Success 200 {object} timelapse.Stats
// @Router /api/status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	respondJSON(w, http.StatusOK, s.status.Stats())
}

// handleEvents godoc
// @Summary List recorded motion and person events
// @Tags Events
// @Param limit query int false "Maximum number of events" default(50)
// @Produce json
// @Success 200 {array} journal.Event
// @Failure 400 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /api/events [get]
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.events == nil {
		respondError(w, http.StatusServiceUnavailable, "Event journal disabled")
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.events.Events(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list events")
		respondError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	if events == nil {
		events = []journal.Event{}
	}

	respondJSON(w, http.StatusOK, events)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
