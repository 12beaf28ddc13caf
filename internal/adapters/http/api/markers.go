// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/beacon/internal/domain/marker"
	"github.com/okian/beacon/internal/domain/types"
)

// MarkerDependencies defines the interface for marker read operations.
type MarkerDependencies interface {
	Markers(ctx context.Context) ([]marker.Marker, error)
	Marker(ctx context.Context, id string) (types.MarkerDetails, error)
	History(ctx context.Context, id string) ([]marker.VoteEvent, error)
}

// MarkersHandler handles marker read requests.
type MarkersHandler struct {
	deps MarkerDependencies
}

// NewMarkersHandler creates a new markers handler.
func NewMarkersHandler(deps MarkerDependencies) *MarkersHandler {
	return &MarkersHandler{deps: deps}
}

// HandleListMarkers handles GET /markers requests, the polling read clients
// refresh the map from.
func (h *MarkersHandler) HandleListMarkers(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_markers"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	all, err := h.deps.Markers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.FromMarkers(all))
}

// HandleMarkerSubpath routes GET /markers/{id} and GET /markers/{id}/events.
func (h *MarkersHandler) HandleMarkerSubpath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	// Extract path parameters after /markers/
	path := strings.TrimPrefix(r.URL.Path, "/markers/")
	id, rest, hasRest := strings.Cut(path, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	switch {
	case !hasRest:
		h.handleGetMarker(w, r, id)
	case rest == "events":
		h.handleGetEvents(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *MarkersHandler) handleGetMarker(w http.ResponseWriter, r *http.Request, id string) {
	details, err := h.deps.Marker(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *MarkersHandler) handleGetEvents(w http.ResponseWriter, r *http.Request, id string) {
	events, err := h.deps.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromEvents(events))
}
