package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
)

const evaluationColumns = `
	e.id, e.candidate_id, e.candidate_name, e.department,
	e.level_path, e.target_level, e.status,
	e.created_by, e.created_at, e.updated_at`

// CreateEvaluation inserts an OPEN evaluation and its Pending decision in one
// transaction.
func (s *Store) CreateEvaluation(ctx context.Context, ev *repository.Evaluation) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = repository.StatusOpen
	}
	now := s.now()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO evaluations
			    (id, candidate_id, candidate_name, department,
			     level_path, target_level, status, created_by,
			     created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.ID,
			ev.CandidateID,
			ev.CandidateName,
			ev.Department,
			ev.LevelPath,
			ev.TargetLevel,
			string(ev.Status),
			ev.CreatedBy,
			toMillis(now),
			toMillis(now),
		)
		if isForeignKeyViolation(err) {
			return errors.NotFound("user", ev.CreatedBy)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create evaluation")
		}
		ev.CreatedAt = fromMillis(toMillis(now))
		ev.UpdatedAt = ev.CreatedAt

		pending := engine.Pending
		return s.upsertDecision(ctx, tx, ev.ID, repository.DecisionUpdate{Committee: &pending, Final: &pending})
	})
}

// GetEvaluation retrieves an evaluation by id.
func (s *Store) GetEvaluation(ctx context.Context, id string) (*repository.Evaluation, error) {
	ev, err := scanEvaluation(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations e WHERE e.id = ?`, id))
	if isNoRows(err) {
		return nil, errors.NotFound("evaluation", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get evaluation")
	}
	return ev, nil
}

// ListEvaluations returns evaluations newest first.
func (s *Store) ListEvaluations(ctx context.Context, f repository.EvaluationFilter) ([]*repository.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations e WHERE 1 = 1`
	var args []any

	if len(f.Statuses) > 0 {
		query += " AND e.status IN (" + placeholders(len(f.Statuses)) + ")"
		for _, st := range f.StatusStrings() {
			args = append(args, st)
		}
	}
	if len(f.Departments) > 0 {
		query += " AND e.department IN (" + placeholders(len(f.Departments)) + ")"
		for _, d := range f.Departments {
			args = append(args, d)
		}
	}

	query += " ORDER BY e.created_at DESC, e.id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list evaluations")
	}
	defer rows.Close()

	evaluations := make([]*repository.Evaluation, 0)
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan evaluation")
		}
		evaluations = append(evaluations, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list evaluations")
	}
	return evaluations, nil
}

// ListAssignedEvaluations returns the evaluations userID is assigned to,
// with the assignment role and whether a vote was submitted.
func (s *Store) ListAssignedEvaluations(ctx context.Context, userID string) ([]*repository.AssignedEvaluation, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT `+evaluationColumns+`, a.evaluator_role, v.id IS NOT NULL
		FROM assignments a
		JOIN evaluations e ON e.id = a.evaluation_id
		LEFT JOIN votes v ON v.evaluation_id = a.evaluation_id AND v.user_id = a.user_id
		WHERE a.user_id = ?
		ORDER BY e.created_at DESC, e.id
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assigned evaluations")
	}
	defer rows.Close()

	out := make([]*repository.AssignedEvaluation, 0)
	for rows.Next() {
		ae := &repository.AssignedEvaluation{}
		var status string
		var createdAt, updatedAt int64
		err := rows.Scan(
			&ae.ID, &ae.CandidateID, &ae.CandidateName, &ae.Department,
			&ae.LevelPath, &ae.TargetLevel, &status,
			&ae.CreatedBy, &createdAt, &updatedAt,
			&ae.Role, &ae.Submitted,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan assigned evaluation")
		}
		ae.Status = repository.Status(status)
		ae.CreatedAt, ae.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
		out = append(out, ae)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assigned evaluations")
	}
	return out, nil
}

// UpdateStatus moves an evaluation from one status to another.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to repository.Status) error {
	return s.updateStatus(ctx, s.sqlDB, id, from, to)
}

// CloseEvaluation closes an evaluation and records its committee and final
// decisions in one transaction.
func (s *Store) CloseEvaluation(ctx context.Context, id string, from repository.Status, committee, final engine.Outcome, decidedBy string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.updateStatus(ctx, tx, id, from, repository.StatusClosed); err != nil {
			return err
		}
		return s.upsertDecision(ctx, tx, id, repository.DecisionUpdate{
			Committee: &committee,
			Final:     &final,
			DecidedBy: &decidedBy,
		})
	})
}

// CloseWithApproverVote stores the approver vote, sets the final decision and
// moves the evaluation from READY_FOR_APPROVER to CLOSED in one transaction.
func (s *Store) CloseWithApproverVote(ctx context.Context, vote *repository.ApproverVote, final engine.Outcome) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.updateStatus(ctx, tx, vote.EvaluationID, repository.StatusReadyForApprover, repository.StatusClosed); err != nil {
			return err
		}
		if err := s.upsertApproverVote(ctx, tx, vote); err != nil {
			return err
		}
		return s.upsertDecision(ctx, tx, vote.EvaluationID, repository.DecisionUpdate{
			Final:     &final,
			DecidedBy: &vote.ApproverID,
		})
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanEvaluation(sc scanner) (*repository.Evaluation, error) {
	ev := &repository.Evaluation{}
	var status string
	var createdAt, updatedAt int64
	err := sc.Scan(
		&ev.ID,
		&ev.CandidateID,
		&ev.CandidateName,
		&ev.Department,
		&ev.LevelPath,
		&ev.TargetLevel,
		&status,
		&ev.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Status = repository.Status(status)
	ev.CreatedAt, ev.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	return ev, nil
}
