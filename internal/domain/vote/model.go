package vote

import (
	"context"
	"time"
)

// Vote is identified by (PollID, VisitorID); the storage layer enforces the
// pair's uniqueness, which is what makes duplicate detection race-safe.
type Vote struct {
	PollID      int64     `json:"poll_id"`
	VisitorID   string    `json:"visitor_id"`
	OptionIndex int       `json:"option_index"`
	IPHash      string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Bucket is the vote count for one minute of the trailing activity window.
type Bucket struct {
	Time  string `json:"time"`
	Count int64  `json:"count"`
}

type Repository interface {
	// Create inserts the vote. It returns ErrAlreadyVoted when a vote for
	// the same (poll, visitor) pair already exists.
	Create(ctx context.Context, v *Vote) error
	// Find returns nil, nil when the visitor has not voted on the poll.
	Find(ctx context.Context, pollID int64, visitorID string) (*Vote, error)
	// IncrementOptionAndTotal atomically bumps the option counter and the
	// poll total, returning the new values.
	IncrementOptionAndTotal(ctx context.Context, pollID int64, optionIndex int) (optionVotes, totalVotes int64, err error)
	BucketsSince(ctx context.Context, pollID int64, since time.Time) ([]Bucket, error)
	CountSince(ctx context.Context, pollID int64, since time.Time) (int64, error)
}
