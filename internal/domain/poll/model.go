package poll

import (
	"context"
	"time"
)

// Poll is addressed externally only by its share token; the internal id
// never leaves the repository layer.
type Poll struct {
	ID         int64      `json:"-"`
	ShareID    string     `json:"shareId"`
	Question   string     `json:"question"`
	Options    []Option   `json:"options"`
	TotalVotes int64      `json:"totalVotes"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	IsPublic   bool       `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Option is positionally addressed: its index in Poll.Options is fixed at
// creation and never reordered.
type Option struct {
	Text  string `json:"text"`
	Votes int64  `json:"votes"`
}

// Summary is the feed projection of a poll.
type Summary struct {
	ShareID     string     `json:"shareId"`
	Question    string     `json:"question"`
	OptionCount int        `json:"optionCount"`
	TotalVotes  int64      `json:"totalVotes"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	IsExpired   bool       `json:"isExpired"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (p *Poll) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

type Repository interface {
	Create(ctx context.Context, p *Poll) error
	GetByShareID(ctx context.Context, shareID string) (*Poll, error)
	Feed(ctx context.Context, offset, limit int, activeOnly bool) ([]Summary, int64, error)
}
