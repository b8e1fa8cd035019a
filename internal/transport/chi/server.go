// Package chi implements the HTTP surface: the SSE search endpoint,
// health, metrics, and the bearer-auth middleware.
package chi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ritivel/regsearch/internal/domain"
	healthuc "github.com/ritivel/regsearch/internal/usecase/health"
	"github.com/ritivel/regsearch/internal/usecase/pipeline"
)

// SearchRunner executes one pipeline run against an event sink.
type SearchRunner interface {
	Run(ctx context.Context, req domain.SearchRequest, sink pipeline.EventSink)
}

// Server holds the HTTP handlers.
type Server struct {
	pipeline SearchRunner
	health   *healthuc.Service
	logger   *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(p SearchRunner, health *healthuc.Service, logger *zap.Logger) *Server {
	return &Server{pipeline: p, health: health, logger: logger}
}

// Routes registers all handlers on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/api/search", s.Search)
	r.Options("/api/search", corsPreflight)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Search handles POST /api/search: one pipeline run streamed as SSE.
// Every pipeline outcome, including validation failure, is reported
// through the event stream; only a body that is not JSON gets a plain
// HTTP error.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("Response writer does not support streaming")
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := newSSESink(r.Context(), w, flusher)
	s.pipeline.Run(r.Context(), req, sink)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
