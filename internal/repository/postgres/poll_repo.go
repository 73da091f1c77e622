package postgres

import (
	"context"
	"database/sql"
	"errors"

	"pollroom/internal/domain/poll"
)

type PollRepo struct {
	db *sql.DB
}

func NewPollRepo(db *sql.DB) *PollRepo {
	return &PollRepo{db: db}
}

func (r *PollRepo) Create(ctx context.Context, p *poll.Poll) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	queryPoll := `
        INSERT INTO polls (share_id, question, total_votes, expires_at, is_public)
        VALUES ($1, $2, 0, $3, $4)
        RETURNING id, created_at
    `

	err = tx.QueryRowContext(ctx, queryPoll,
		p.ShareID,
		p.Question,
		p.ExpiresAt,
		p.IsPublic,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return err
	}

	queryOpt := `
        INSERT INTO options (poll_id, position, text, votes)
        VALUES ($1, $2, $3, 0)
    `

	for i := range p.Options {
		if _, err := tx.ExecContext(ctx, queryOpt, p.ID, i, p.Options[i].Text); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PollRepo) GetByShareID(ctx context.Context, shareID string) (*poll.Poll, error) {
	p := &poll.Poll{}
	err := r.db.QueryRowContext(ctx, `
        SELECT id, share_id, question, total_votes, expires_at, is_public, created_at
        FROM polls WHERE share_id = $1
    `, shareID).Scan(
		&p.ID, &p.ShareID, &p.Question, &p.TotalVotes,
		&p.ExpiresAt, &p.IsPublic, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, poll.ErrPollNotFound
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT text, votes
        FROM options WHERE poll_id = $1
        ORDER BY position
    `, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var o poll.Option
		if err := rows.Scan(&o.Text, &o.Votes); err != nil {
			return nil, err
		}
		p.Options = append(p.Options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return p, nil
}

func (r *PollRepo) Feed(ctx context.Context, offset, limit int, activeOnly bool) ([]poll.Summary, int64, error) {
	where := `WHERE is_public`
	if activeOnly {
		where += ` AND (expires_at IS NULL OR expires_at > now())`
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM polls `+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT p.share_id, p.question,
               (SELECT COUNT(*) FROM options o WHERE o.poll_id = p.id),
               p.total_votes, p.expires_at, p.created_at
        FROM polls p `+where+`
        ORDER BY p.created_at DESC
        OFFSET $1 LIMIT $2
    `, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []poll.Summary
	for rows.Next() {
		var s poll.Summary
		if err := rows.Scan(&s.ShareID, &s.Question, &s.OptionCount,
			&s.TotalVotes, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return res, total, nil
}
