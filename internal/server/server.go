// Package server exposes SBOM enrichment over HTTP for daemon deployments.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p2repo/sbomgen/internal/enricher"
)

const (
	// maxRequestSize is the maximum request body size (10MB).
	maxRequestSize = 10 * 1024 * 1024
	// enrichmentTimeout is the maximum time allowed for enrichment operations.
	enrichmentTimeout = 10 * time.Minute
)

// Server is the HTTP server for the SBOM enrichment daemon.
type Server struct {
	enricher *enricher.Enricher
	registry *prometheus.Registry
	logger   *slog.Logger
	version  string
}

// enrichRequest is the request body for POST /enrich.
type enrichRequest struct {
	// SBOM is the CycloneDX SBOM to enrich.
	SBOM json.RawMessage `json:"sbom"`
}

// enrichResponse is the response body for POST /enrich.
type enrichResponse struct {
	// SBOM is the enriched SBOM.
	SBOM json.RawMessage `json:"sbom"`
}

// errorResponse is the error response body.
type errorResponse struct {
	// Error is the error message.
	Error string `json:"error"`
}

// NewServer creates a new Server instance.
func NewServer(
	enricher *enricher.Enricher,
	registry *prometheus.Registry,
	logger *slog.Logger,
	version string,
) *Server {
	return &Server{
		enricher: enricher,
		registry: registry,
		logger:   logger,
		version:  version,
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/enrich", s.handleEnrich)
	mux.HandleFunc("/health", s.handleHealth)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// handleEnrich handles POST /enrich requests.
func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), enrichmentTimeout)
	defer cancel()

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}

	var req enrichRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.SBOM) == 0 {
		s.writeError(w, http.StatusBadRequest, "missing sbom field")
		return
	}

	enriched, err := s.enricher.Enrich(ctx, req.SBOM)
	if err != nil {
		s.logger.ErrorContext(ctx, "enrichment failed", "error", err)
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("enrichment failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(enrichResponse{SBOM: enriched}); err != nil {
		s.logger.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "only GET is allowed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","version":%q}`, s.version)
}

// writeError writes a JSON error response with the given status code.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		s.logger.Error("failed to write error response", "error", err)
	}
}
