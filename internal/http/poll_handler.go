package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"pollroom/internal/platform/apperr"
)

type createPollRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Duration int      `json:"duration"`
}

// @Summary     Create a poll
// @Tags        polls
// @Accept      json
// @Produce     json
// @Param       request  body      createPollRequest  true  "Poll payload"
// @Success     201      {object}  map[string]any
// @Failure     400      {object}  map[string]string  "invalid input"
// @Router      /api/polls [post]
func (h *Handler) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	var req createPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, apperr.BadRequest("invalid_input", "invalid body", err))
		return
	}

	p, err := h.pollSvc.Create(r.Context(), req.Question, req.Options, req.Duration)
	if err != nil {
		errorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"poll":     p,
		"shareUrl": "/poll/" + p.ShareID,
	})
}

// @Summary     Browse recent public polls
// @Tags        polls
// @Produce     json
// @Param       page    query     int     false  "Page number"
// @Param       limit   query     int     false  "Page size (max 20)"
// @Param       active  query     bool    false  "Only polls still open"
// @Success     200     {object}  poll.FeedPage
// @Router      /api/polls/feed [get]
func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	activeOnly := r.URL.Query().Get("active") == "true"

	feed, err := h.pollSvc.Feed(r.Context(), page, limit, activeOnly)
	if err != nil {
		errorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feed)
}

// @Summary     Get a poll with the visitor's vote state
// @Tags        polls
// @Produce     json
// @Param       shareId    path      string  true   "Poll share token"
// @Param       visitorId  query     string  false  "Opaque visitor token"
// @Success     200        {object}  map[string]any
// @Failure     404        {object}  map[string]string  "not found"
// @Router      /api/polls/{shareId} [get]
func (h *Handler) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareId")

	p, err := h.pollSvc.GetByShareID(r.Context(), shareID)
	if err != nil {
		errorResponse(w, err)
		return
	}

	hasVoted, votedIndex, err := h.voteSvc.HasVoted(r.Context(), p.ID, r.URL.Query().Get("visitorId"))
	if err != nil {
		errorResponse(w, err)
		return
	}

	var votedOption *int
	if hasVoted {
		votedOption = &votedIndex
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"poll":        p,
		"hasVoted":    hasVoted,
		"votedOption": votedOption,
		"isExpired":   p.IsExpired(time.Now()),
	})
}

// @Summary     Recent vote activity for a poll
// @Tags        polls
// @Produce     json
// @Param       shareId  path      string  true  "Poll share token"
// @Success     200      {object}  vote.Activity
// @Failure     404      {object}  map[string]string  "not found"
// @Router      /api/polls/{shareId}/activity [get]
func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareId")

	activity, err := h.voteSvc.GetActivity(r.Context(), shareID)
	if err != nil {
		errorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, activity)
}
