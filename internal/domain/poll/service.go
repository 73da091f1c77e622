package poll

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"pollroom/internal/platform/token"
)

var (
	ErrPollNotFound    = errors.New("poll not found")
	ErrInvalidQuestion = errors.New("question must be between 1 and 500 characters")
	ErrInvalidOptions  = errors.New("poll must have between 2 and 10 non-empty options")
)

const maxQuestionLen = 500

// validDurations are the allowed poll lifetimes in minutes: 15m, 1h, 6h,
// 24h and 7d. Any other value means the poll never expires.
var validDurations = map[int]bool{15: true, 60: true, 360: true, 1440: true, 10080: true}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) Create(ctx context.Context, question string, options []string, durationMinutes int) (*Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" || utf8.RuneCountInString(question) > maxQuestionLen {
		return nil, ErrInvalidQuestion
	}
	if len(options) < 2 || len(options) > 10 {
		return nil, ErrInvalidOptions
	}

	trimmed := make([]Option, 0, len(options))
	for _, text := range options {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		trimmed = append(trimmed, Option{Text: text})
	}
	if len(trimmed) < 2 {
		return nil, ErrInvalidOptions
	}

	shareID, err := token.NewShareToken()
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if validDurations[durationMinutes] {
		t := s.now().Add(time.Duration(durationMinutes) * time.Minute)
		expiresAt = &t
	}

	p := &Poll{
		ShareID:   shareID,
		Question:  question,
		Options:   trimmed,
		ExpiresAt: expiresAt,
		IsPublic:  true,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetByShareID(ctx context.Context, shareID string) (*Poll, error) {
	return s.repo.GetByShareID(ctx, shareID)
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

type FeedPage struct {
	Polls      []Summary  `json:"polls"`
	Pagination Pagination `json:"pagination"`
}

func (s *Service) Feed(ctx context.Context, page, limit int, activeOnly bool) (*FeedPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 12
	}
	if limit > 20 {
		limit = 20
	}

	polls, total, err := s.repo.Feed(ctx, (page-1)*limit, limit, activeOnly)
	if err != nil {
		return nil, err
	}
	if polls == nil {
		polls = []Summary{}
	}

	now := s.now()
	for i := range polls {
		polls[i].IsExpired = polls[i].ExpiresAt != nil && now.After(*polls[i].ExpiresAt)
	}

	return &FeedPage{
		Polls: polls,
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + int64(limit) - 1) / int64(limit),
		},
	}, nil
}
