package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pollroom/internal/platform/apperr"
	"pollroom/internal/platform/token"
	"pollroom/internal/worker"
)

type voteRequest struct {
	OptionIndex *int   `json:"optionIndex"`
	VisitorID   string `json:"visitorId"`
}

// @Summary     Cast a vote
// @Tags        votes
// @Accept      json
// @Produce     json
// @Param       shareId  path      string       true  "Poll share token"
// @Param       request  body      voteRequest  true  "Vote payload"
// @Success     200      {object}  map[string]any
// @Failure     400      {object}  map[string]string  "invalid input"
// @Failure     403      {object}  map[string]string  "poll ended"
// @Failure     404      {object}  map[string]string  "not found"
// @Failure     409      {object}  map[string]string  "already voted"
// @Failure     429      {object}  map[string]string  "rate limited"
// @Router      /api/polls/{shareId}/vote [post]
func (h *Handler) handleVote(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareId")

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, apperr.BadRequest("invalid_input", "invalid body", err))
		return
	}
	if req.OptionIndex == nil || req.VisitorID == "" {
		errorResponse(w, apperr.BadRequest("invalid_input", "optionIndex and visitorId are required", nil))
		return
	}

	ipHash := token.HashIP(h.ipSalt, clientIP(r))

	p, ev, err := h.voteSvc.CastVote(r.Context(), shareID, req.VisitorID, *req.OptionIndex, ipHash)
	if err != nil {
		errorResponse(w, err)
		return
	}

	// The vote is committed; everything past this point is best-effort
	// fan-out, not part of the commit.
	h.hub.BroadcastVote(p.ShareID, ev)

	select {
	case h.voteCh <- worker.VoteEvent{ShareID: p.ShareID, OptionIndex: ev.OptionIndex}:
	default:
	}

	writeJSON(w, http.StatusOK, map[string]any{"poll": p})
}
