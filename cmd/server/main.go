package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "pollroom/docs"
	"pollroom/internal/config"
	"pollroom/internal/domain/poll"
	"pollroom/internal/domain/vote"
	"pollroom/internal/hub"
	api "pollroom/internal/http"
	"pollroom/internal/metrics"
	"pollroom/internal/platform/database"
	"pollroom/internal/repository/postgres"
	"pollroom/internal/worker"
)

// @title           PollRoom API
// @version         1.0
// @description     Real-time polls with live results
// @BasePath        /api
func main() {
	cfg := config.Load()

	logger := slog.Default()
	api.SetLogger(logger)
	metrics.Register()

	db, err := database.NewPostgres(cfg.DB_DSN)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer db.Close()

	pollRepo := postgres.NewPollRepo(db)
	voteRepo := postgres.NewVoteRepo(db)

	pollSvc := poll.NewService(pollRepo)
	voteSvc := vote.NewService(voteRepo, pollRepo)

	broadcastHub := hub.NewHub(logger)

	voteCh := make(chan worker.VoteEvent, 100)
	statsWorker := worker.NewStatsWorker(voteCh, logger)

	router := api.NewRouter(pollSvc, voteSvc, broadcastHub, voteCh, db, cfg.IPHashSalt)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go statsWorker.Run(ctx)

	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown error: %v", err)
	}

	logger.Info("server stopped")
}
