package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"pollroom/internal/domain/vote"
)

type VoteRepo struct {
	db *sql.DB
}

func NewVoteRepo(db *sql.DB) *VoteRepo {
	return &VoteRepo{db: db}
}

// Create relies on the (poll_id, visitor_id) primary key as the race-safe
// duplicate guard: of N concurrent inserts for one pair, exactly one commits.
func (r *VoteRepo) Create(ctx context.Context, v *vote.Vote) error {
	query := `
        INSERT INTO votes (poll_id, visitor_id, option_index, ip_hash)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at
    `
	err := r.db.QueryRowContext(ctx, query, v.PollID, v.VisitorID, v.OptionIndex, v.IPHash).
		Scan(&v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return vote.ErrAlreadyVoted
		}
		return err
	}
	return nil
}

func (r *VoteRepo) Find(ctx context.Context, pollID int64, visitorID string) (*vote.Vote, error) {
	v := &vote.Vote{PollID: pollID, VisitorID: visitorID}
	err := r.db.QueryRowContext(ctx, `
        SELECT option_index, created_at
        FROM votes WHERE poll_id = $1 AND visitor_id = $2
    `, pollID, visitorID).Scan(&v.OptionIndex, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// IncrementOptionAndTotal bumps both counters in a single statement so the
// poll total can never drift from the option sum, and no poll row is ever
// read, mutated locally and written back.
func (r *VoteRepo) IncrementOptionAndTotal(ctx context.Context, pollID int64, optionIndex int) (int64, int64, error) {
	var optionVotes, totalVotes int64
	err := r.db.QueryRowContext(ctx, `
        WITH opt AS (
            UPDATE options SET votes = votes + 1
            WHERE poll_id = $1 AND position = $2
            RETURNING votes
        )
        UPDATE polls SET total_votes = total_votes + 1
        WHERE id = $1
        RETURNING (SELECT votes FROM opt), total_votes
    `, pollID, optionIndex).Scan(&optionVotes, &totalVotes)
	if err != nil {
		return 0, 0, err
	}
	return optionVotes, totalVotes, nil
}

func (r *VoteRepo) BucketsSince(ctx context.Context, pollID int64, since time.Time) ([]vote.Bucket, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT to_char(date_trunc('minute', created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD"T"HH24:MI'),
               COUNT(*)
        FROM votes
        WHERE poll_id = $1 AND created_at >= $2
        GROUP BY 1
        ORDER BY 1
        LIMIT 60
    `, pollID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []vote.Bucket
	for rows.Next() {
		var b vote.Bucket
		if err := rows.Scan(&b.Time, &b.Count); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (r *VoteRepo) CountSince(ctx context.Context, pollID int64, since time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM votes WHERE poll_id = $1 AND created_at >= $2
    `, pollID, since).Scan(&n)
	return n, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
