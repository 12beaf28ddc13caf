// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/beacon/internal/domain/marker"
	"github.com/okian/beacon/internal/domain/types"
)

// VoteDependencies defines the interface for vote processing dependencies.
type VoteDependencies interface {
	SubmitVote(ctx context.Context, vote marker.Vote) (marker.Outcome, error)
}

// VotesHandler handles vote requests.
type VotesHandler struct {
	deps VoteDependencies
}

// NewVotesHandler creates a new votes handler.
func NewVotesHandler(deps VoteDependencies) *VotesHandler {
	return &VotesHandler{deps: deps}
}

// HandlePostVote handles POST /votes requests. The vote runs through the
// reconciliation pipeline synchronously; the response carries the outcome.
func (h *VotesHandler) HandlePostVote(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_vote"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	outcome, err := h.deps.SubmitVote(r.Context(), req.vote())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromOutcome(outcome))
}
