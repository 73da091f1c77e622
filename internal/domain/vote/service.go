package vote

import (
	"context"
	"errors"
	"math"
	"time"

	"pollroom/internal/domain/poll"
)

var (
	ErrAlreadyVoted  = errors.New("visitor already voted on this poll")
	ErrPollExpired   = errors.New("poll has ended")
	ErrInvalidOption = errors.New("invalid option index")
)

const (
	activityWindow = time.Hour
	velocityWindow = 5 * time.Minute
)

// Event describes a committed vote and is fanned out to the broadcast hub
// and the stats worker.
type Event struct {
	ShareID     string        `json:"-"`
	Options     []poll.Option `json:"options"`
	TotalVotes  int64         `json:"totalVotes"`
	OptionIndex int           `json:"optionIndex"`
	Timestamp   time.Time     `json:"timestamp"`
}

type Service struct {
	votes Repository
	polls poll.Repository
	now   func() time.Time
}

func NewService(votes Repository, polls poll.Repository) *Service {
	return &Service{votes: votes, polls: polls, now: time.Now}
}

// CastVote runs the precondition chain in order: poll exists, poll not
// expired, option index in range, visitor has not voted. The duplicate
// pre-check is advisory only; the vote insert is the final arbiter, so two
// racing requests from one visitor yield exactly one success and one
// ErrAlreadyVoted. Counters are bumped with a storage-side increment, never
// read-modify-write.
func (s *Service) CastVote(ctx context.Context, shareID, visitorID string, optionIndex int, ipHash string) (*poll.Poll, *Event, error) {
	p, err := s.polls.GetByShareID(ctx, shareID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	if p.IsExpired(now) {
		return nil, nil, ErrPollExpired
	}
	if optionIndex < 0 || optionIndex >= len(p.Options) {
		return nil, nil, ErrInvalidOption
	}

	existing, err := s.votes.Find(ctx, p.ID, visitorID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, ErrAlreadyVoted
	}

	v := &Vote{
		PollID:      p.ID,
		VisitorID:   visitorID,
		OptionIndex: optionIndex,
		IPHash:      ipHash,
	}
	if err := s.votes.Create(ctx, v); err != nil {
		return nil, nil, err
	}

	optionVotes, totalVotes, err := s.votes.IncrementOptionAndTotal(ctx, p.ID, optionIndex)
	if err != nil {
		return nil, nil, err
	}

	p.Options[optionIndex].Votes = optionVotes
	p.TotalVotes = totalVotes

	ev := &Event{
		ShareID:     p.ShareID,
		Options:     p.Options,
		TotalVotes:  totalVotes,
		OptionIndex: optionIndex,
		Timestamp:   now,
	}
	return p, ev, nil
}

// HasVoted reports whether the visitor already voted and which option index
// was chosen.
func (s *Service) HasVoted(ctx context.Context, pollID int64, visitorID string) (bool, int, error) {
	if visitorID == "" {
		return false, 0, nil
	}
	v, err := s.votes.Find(ctx, pollID, visitorID)
	if err != nil {
		return false, 0, err
	}
	if v == nil {
		return false, 0, nil
	}
	return true, v.OptionIndex, nil
}

// Activity is the windowed read-side view of a poll's vote stream.
type Activity struct {
	Buckets     []Bucket `json:"activity"`
	Velocity    float64  `json:"velocity"`
	RecentVotes int64    `json:"recentVotes"`
}

// GetActivity buckets the trailing hour of votes by minute and derives a
// smoothed votes-per-minute velocity from the trailing five minutes. Minutes
// with no votes are absent from the result.
func (s *Service) GetActivity(ctx context.Context, shareID string) (*Activity, error) {
	p, err := s.polls.GetByShareID(ctx, shareID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	buckets, err := s.votes.BucketsSince(ctx, p.ID, now.Add(-activityWindow))
	if err != nil {
		return nil, err
	}
	recent, err := s.votes.CountSince(ctx, p.ID, now.Add(-velocityWindow))
	if err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []Bucket{}
	}

	return &Activity{
		Buckets:     buckets,
		Velocity:    math.Round(float64(recent)/5*10) / 10,
		RecentVotes: recent,
	}, nil
}
