// Package repository persists evaluations, assignments, votes, decisions,
// accounts and the audit log in PostgreSQL.
package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-key violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

func isNoRows(err error) bool {
	return stderrors.Is(err, pgx.ErrNoRows)
}

func ratingsFromStrings(values []string) (engine.Ratings, error) {
	r, err := engine.ParseRatings(values)
	if err != nil {
		return r, errors.Wrap(err, errors.ErrCodeInternal, "stored ratings are malformed")
	}
	return r, nil
}

func outcomeArg(o *engine.Outcome) *string {
	if o == nil {
		return nil
	}
	s := string(*o)
	return &s
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

// updateStatus moves an evaluation from one status to another only if it is
// still in the expected status.
func updateStatus(ctx context.Context, q querier, id string, from, to Status) error {
	tag, err := q.Exec(ctx, `
		UPDATE evaluations
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update evaluation status")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = q.QueryRow(ctx, `SELECT status FROM evaluations WHERE id = $1`, id).Scan(&current)
	if isNoRows(err) {
		return errors.NotFound("evaluation", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read evaluation status")
	}
	return StatusConflict(id, Status(current), from, to)
}

// StatusConflict reports a status change that found the evaluation in an
// unexpected state.
func StatusConflict(id string, current, expected, requested Status) *errors.Error {
	return errors.StateConflict(fmt.Sprintf(
		"evaluation %s is %s; moving to %s requires %s", id, current, requested, expected)).
		WithDetail("evaluation_id", id).
		WithDetail("current_status", string(current)).
		WithDetail("expected_status", string(expected)).
		WithDetail("requested_status", string(requested))
}

func upsertDecision(ctx context.Context, q querier, evaluationID string, u DecisionUpdate) error {
	_, err := q.Exec(ctx, `
		INSERT INTO decisions (evaluation_id, committee_decision, final_decision, decided_by, decided_at, updated_at)
		VALUES ($1, COALESCE($2::text, 'Pending'), COALESCE($3::text, 'Pending'), $4::text,
		        CASE WHEN $4::text IS NULL THEN NULL ELSE NOW() END, NOW())
		ON CONFLICT (evaluation_id) DO UPDATE
		SET committee_decision = COALESCE($2::text, decisions.committee_decision),
		    final_decision     = COALESCE($3::text, decisions.final_decision),
		    decided_by         = COALESCE($4::text, decisions.decided_by),
		    decided_at         = CASE WHEN $4::text IS NULL THEN decisions.decided_at ELSE NOW() END,
		    updated_at         = NOW()
	`, evaluationID, outcomeArg(u.Committee), outcomeArg(u.Final), u.DecidedBy)
	if pgCode(err) == pgForeignKeyViolation {
		return errors.NotFound("evaluation", evaluationID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save decision")
	}
	return nil
}
