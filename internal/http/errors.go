package api

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"pollroom/internal/domain/poll"
	"pollroom/internal/domain/vote"
	"pollroom/internal/platform/apperr"
)

func errorResponse(w http.ResponseWriter, err error) {
	appErr := mapError(err)
	if appErr.StatusCode() >= http.StatusInternalServerError {
		slogLogger.Error("request failed", "code", appErr.Code, "err", appErr.Unwrap())
	}
	writeJSON(w, appErr.StatusCode(), map[string]string{
		"error":   appErr.Code,
		"message": appErr.Message,
	})
}

func mapError(err error) *apperr.AppError {
	if err == nil {
		return apperr.Internal("internal_error", "internal server error", nil)
	}

	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, poll.ErrPollNotFound), errors.Is(err, sql.ErrNoRows):
		return apperr.NotFound("poll_not_found", "poll not found", err)
	case errors.Is(err, poll.ErrInvalidQuestion):
		return apperr.BadRequest("invalid_question", "question is required and must be at most 500 characters", err)
	case errors.Is(err, poll.ErrInvalidOptions):
		return apperr.BadRequest("invalid_options", "please provide between 2 and 10 non-empty options", err)
	case errors.Is(err, vote.ErrPollExpired):
		return apperr.Forbidden("poll_ended", "this poll has ended", err)
	case errors.Is(err, vote.ErrInvalidOption):
		return apperr.BadRequest("invalid_option", "invalid option index", err)
	case errors.Is(err, vote.ErrAlreadyVoted):
		return apperr.Conflict("already_voted", "you have already voted on this poll", err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, context.DeadlineExceeded):
		return apperr.Unavailable("storage_unavailable", "storage temporarily unavailable", err)
	case isConnectivityError(err):
		return apperr.Unavailable("storage_unavailable", "storage temporarily unavailable", err)
	default:
		return apperr.Internal("internal_error", http.StatusText(http.StatusInternalServerError), err)
	}
}

// isConnectivityError catches storage failures that surface mid-flight
// rather than as sentinel errors: Postgres class 08 (connection exception)
// and plain network errors from a dropped dial or socket.
func isConnectivityError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
