package worker

import (
	"context"
	"log/slog"

	"pollroom/internal/metrics"
)

// VoteEvent is the async notification emitted after a vote commits. The
// sender never blocks on it; a full channel drops the event, which only
// costs a metrics tick, never a vote.
type VoteEvent struct {
	ShareID     string
	OptionIndex int
}

type StatsWorker struct {
	Ch  <-chan VoteEvent
	log *slog.Logger
}

func NewStatsWorker(ch <-chan VoteEvent, log *slog.Logger) *StatsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &StatsWorker{Ch: ch, log: log}
}

func (w *StatsWorker) Run(ctx context.Context) {
	w.log.Info("stats worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("stats worker stopped")
			return
		case ev := <-w.Ch:
			metrics.IncVoteCast()
			w.log.Debug("vote recorded", "poll", ev.ShareID, "option", ev.OptionIndex)
		}
	}
}
