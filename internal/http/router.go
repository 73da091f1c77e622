package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"pollroom/internal/domain/poll"
	"pollroom/internal/domain/vote"
	"pollroom/internal/hub"
	"pollroom/internal/worker"
)

const (
	voteLimit       = 5
	voteLimitWindow = 15 * time.Minute
	apiLimit        = 60
	apiLimitWindow  = time.Minute
)

type Handler struct {
	pollSvc *poll.Service
	voteSvc *vote.Service
	hub     *hub.Hub
	voteCh  chan<- worker.VoteEvent
	db      *sql.DB
	ipSalt  string
}

func NewRouter(
	pollSvc *poll.Service,
	voteSvc *vote.Service,
	h *hub.Hub,
	voteCh chan<- worker.VoteEvent,
	db *sql.DB,
	ipSalt string,
) http.Handler {
	handler := &Handler{
		pollSvc: pollSvc,
		voteSvc: voteSvc,
		hub:     h,
		voteCh:  voteCh,
		db:      db,
		ipSalt:  ipSalt,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(RequestLogger)
	r.Use(CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", handler.handleReady)
	r.Get("/swagger/*", httpSwagger.WrapHandler)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws", handler.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimitAPI(apiLimit, apiLimitWindow))

		r.Route("/polls", func(r chi.Router) {
			r.Post("/", handler.handleCreatePoll)
			r.Get("/feed", handler.handleFeed)
			r.Get("/{shareId}", handler.handleGetPoll)
			r.Get("/{shareId}/activity", handler.handleActivity)
			r.With(RateLimitVotes(voteLimit, voteLimitWindow)).
				Post("/{shareId}/vote", handler.handleVote)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   "db_unavailable",
			"message": "database not configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   "db_unavailable",
			"message": "database not ready",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
