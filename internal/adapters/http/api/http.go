// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/beacon/internal/app"
	"github.com/okian/beacon/internal/domain/marker"
	"github.com/okian/beacon/internal/domain/reconcile"
	"github.com/okian/beacon/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// SubmitVote reconciles one vote synchronously and reports what it did.
	SubmitVote(ctx context.Context, vote marker.Vote) (marker.Outcome, error)

	// Read operations expose the marker map.
	Markers(ctx context.Context) ([]marker.Marker, error)
	Marker(ctx context.Context, id string) (types.MarkerDetails, error)
	History(ctx context.Context, id string) ([]marker.VoteEvent, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	votesHandler   *VotesHandler
	markersHandler *MarkersHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		votesHandler:   NewVotesHandler(deps),
		markersHandler: NewMarkersHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/votes", MetricsMiddleware(s.votesHandler.HandlePostVote, "votes"))
	mux.HandleFunc("/markers", MetricsMiddleware(s.markersHandler.HandleListMarkers, "markers"))
	mux.HandleFunc("/markers/", MetricsMiddleware(s.markersHandler.HandleMarkerSubpath, "marker_detail"))
}

// voteRequest mirrors the OpenAPI schema for POST /votes.
type voteRequest struct {
	ReporterID string  `json:"reporter_id"`
	VoteID     string  `json:"vote_id,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Color      string  `json:"color"`
}

func (v voteRequest) vote() marker.Vote {
	return marker.Vote{
		VoteID:     strings.TrimSpace(v.VoteID),
		ReporterID: strings.TrimSpace(v.ReporterID),
		Latitude:   v.Latitude,
		Longitude:  v.Longitude,
		Color:      marker.Color(strings.ToLower(strings.TrimSpace(v.Color))),
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates the reconciliation taxonomy into HTTP.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reconcile.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, reconcile.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err)
	case errors.Is(err, reconcile.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, reconcile.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, reconcile.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
