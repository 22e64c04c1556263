// Package api serves the REST surface: health, live sessions and alert history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"perceptor/internal/metrics"
	"perceptor/internal/session"
	"perceptor/pkg/interfaces"
	"perceptor/pkg/types"
)

// LiveSessions is the part of the session registry the API reads and ends
type LiveSessions interface {
	List() []types.SessionSnapshot
	End(ctx context.Context, id string) error
	GetStats() map[string]interface{}
}

// AlertHistory serves persisted alert sessions
type AlertHistory interface {
	interfaces.AlertReader
	HealthCheck(ctx context.Context) error
}

// Readiness reports whether a remote capability can take work
type Readiness interface {
	Ready() bool
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	sessions   LiveSessions
	alerts     AlertHistory
	classifier Readiness
	metrics    *metrics.Metrics
	logger     *slog.Logger
	router     *http.ServeMux
	started    time.Time
}

// FUNCTIONAL DISCOVERY: Constructor initializes all dependencies and sets up routing
func NewServer(sessions LiveSessions, alerts AlertHistory, classifier Readiness, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessions:   sessions,
		alerts:     alerts,
		classifier: classifier,
		metrics:    m,
		logger:     logger.With("component", "api"),
		router:     http.NewServeMux(),
		started:    time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.healthCheck)
	s.router.HandleFunc("GET /api/sessions", s.listSessions)
	s.router.HandleFunc("DELETE /api/sessions/{id}", s.endSession)
	s.router.HandleFunc("GET /api/alerts", s.listAlerts)
	s.router.HandleFunc("GET /api/alerts/{id}", s.getAlert)
}

// ServeHTTP applies CORS and JSON headers to every route
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.jsonMiddleware(s.router)).ServeHTTP(w, r)
}

type ListSessionsResponse struct {
	Sessions []types.SessionSnapshot `json:"sessions"`
}

type ListAlertsResponse struct {
	Alerts  []*types.AlertSessionRecord `json:"alerts"`
	Total   int                         `json:"total"`
	Page    int                         `json:"page"`
	PerPage int                         `json:"per_page"`
}

type AlertResponse struct {
	Alert  *types.AlertSessionRecord `json:"alert"`
	Frames []*types.AlertFrameRecord `json:"frames"`
}

type HealthResponse struct {
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Uptime     string                 `json:"uptime"`
	Database   string                 `json:"database"`
	Classifier string                 `json:"classifier"`
	Sessions   map[string]interface{} `json:"sessions"`
	Metrics    map[string]interface{} `json:"metrics,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /api/sessions - live streams, oldest first
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, ListSessionsResponse{Sessions: s.sessions.List()})
}

// FUNCTIONAL DISCOVERY: DELETE /api/sessions/{id} - server-side end signal.
// The client receives stream_end on its socket exactly as if it had sent end.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.End(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.logger.Error("Failed to end session", "session_id", id, "error", err)
		s.sendError(w, "Failed to end session", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Session ended successfully"})
}

// FUNCTIONAL DISCOVERY: GET /api/alerts?kind=&page=&per_page= - newest first
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query types.AlertQuery

	if kind := q.Get("kind"); kind != "" {
		k, err := types.ParseKind(kind)
		if err != nil || !k.KeepsAlerts() {
			s.sendError(w, "kind must be face or pavement", http.StatusBadRequest)
			return
		}
		query.Kind = k
	}
	for name, dst := range map[string]*int{"page": &query.Page, "per_page": &query.PerPage} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				s.sendError(w, name+" must be a positive integer", http.StatusBadRequest)
				return
			}
			*dst = n
		}
	}

	query.Normalize()
	records, total, err := s.alerts.ListAlertSessions(r.Context(), query)
	if err != nil {
		s.logger.Error("Failed to list alert sessions", "error", err)
		s.sendError(w, "Failed to list alerts", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*types.AlertSessionRecord{}
	}
	s.sendJSON(w, http.StatusOK, ListAlertsResponse{
		Alerts:  records,
		Total:   total,
		Page:    query.Page,
		PerPage: query.PerPage,
	})
}

// FUNCTIONAL DISCOVERY: GET /api/alerts/{id} - one alert session with its frames
func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := s.alerts.GetAlertSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrAlertSessionNotFound) {
			s.sendError(w, "Alert session not found", http.StatusNotFound)
			return
		}
		s.logger.Error("Failed to get alert session", "alert_session_id", id, "error", err)
		s.sendError(w, "Failed to get alert", http.StatusInternalServerError)
		return
	}

	frames, err := s.alerts.ListAlertFrames(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to list alert frames", "alert_session_id", id, "error", err)
		s.sendError(w, "Failed to get alert frames", http.StatusInternalServerError)
		return
	}
	if frames == nil {
		frames = []*types.AlertFrameRecord{}
	}
	s.sendJSON(w, http.StatusOK, AlertResponse{Alert: record, Frames: frames})
}

// FUNCTIONAL DISCOVERY: GET /health - store health, classifier readiness,
// registry and process counters. An unready classifier degrades but does
// not fail health since alert history stays available.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.alerts.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	classifierStatus := "ready"
	if s.classifier == nil || !s.classifier.Ready() {
		classifierStatus = "unavailable"
		if status == "healthy" {
			status = "degraded"
		}
	}

	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Database:   dbStatus,
		Classifier: classifierStatus,
		Sessions:   s.sessions.GetStats(),
	}
	if s.metrics != nil {
		response.Metrics = s.metrics.Snapshot()
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", "error", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables browser dashboards
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
