package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/database"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// EvaluationRepository manages evaluations and their lifecycle writes.
// Every status change is conditional on the expected current status.
type EvaluationRepository struct {
	db *database.DB
}

// NewEvaluationRepository creates a new EvaluationRepository.
func NewEvaluationRepository(db *database.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

const evaluationColumns = `
	e.id, e.candidate_id, e.candidate_name, e.department,
	e.level_path, e.target_level, e.status,
	e.created_by, e.created_at, e.updated_at`

// CreateEvaluation inserts an OPEN evaluation and its Pending decision in one
// transaction.
func (r *EvaluationRepository) CreateEvaluation(ctx context.Context, ev *Evaluation) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = StatusOpen
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO evaluations
			    (id, candidate_id, candidate_name, department,
			     level_path, target_level, status, created_by)
			VALUES ($1, $2, $3, $4,
			        $5, $6, $7, $8)
			RETURNING created_at, updated_at
		`,
			ev.ID,
			ev.CandidateID,
			ev.CandidateName,
			ev.Department,
			ev.LevelPath,
			ev.TargetLevel,
			string(ev.Status),
			ev.CreatedBy,
		).Scan(&ev.CreatedAt, &ev.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create evaluation")
		}
		ev.CreatedAt, ev.UpdatedAt = utc(ev.CreatedAt), utc(ev.UpdatedAt)

		pending := engine.Pending
		return upsertDecision(ctx, tx, ev.ID, DecisionUpdate{Committee: &pending, Final: &pending})
	})
}

// GetEvaluation retrieves an evaluation by id.
func (r *EvaluationRepository) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	ev, err := scanEvaluation(r.db.QueryRow(ctx, `SELECT `+evaluationColumns+` FROM evaluations e WHERE e.id = $1`, id))
	if isNoRows(err) {
		return nil, errors.NotFound("evaluation", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get evaluation")
	}
	return ev, nil
}

// ListEvaluations returns evaluations newest first.
func (r *EvaluationRepository) ListEvaluations(ctx context.Context, f EvaluationFilter) ([]*Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations e WHERE TRUE`
	var args []any
	argCount := 1

	if len(f.Statuses) > 0 {
		query += fmt.Sprintf(" AND e.status = ANY($%d::text[])", argCount)
		args = append(args, f.StatusStrings())
		argCount++
	}
	if len(f.Departments) > 0 {
		query += fmt.Sprintf(" AND e.department = ANY($%d::text[])", argCount)
		args = append(args, f.Departments)
		argCount++
	}

	query += " ORDER BY e.created_at DESC, e.id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list evaluations")
	}
	defer rows.Close()

	evaluations := make([]*Evaluation, 0)
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
func (r *EvaluationRepository) ListAssignedEvaluations(ctx context.Context, userID string) ([]*AssignedEvaluation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+evaluationColumns+`, a.evaluator_role, v.id IS NOT NULL
		FROM assignments a
		JOIN evaluations e ON e.id = a.evaluation_id
		LEFT JOIN votes v ON v.evaluation_id = a.evaluation_id AND v.user_id = a.user_id
		WHERE a.user_id = $1
		ORDER BY e.created_at DESC, e.id
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assigned evaluations")
	}
	defer rows.Close()

	out := make([]*AssignedEvaluation, 0)
	for rows.Next() {
		ae := &AssignedEvaluation{}
		var status string
		err := rows.Scan(
			&ae.ID, &ae.CandidateID, &ae.CandidateName, &ae.Department,
			&ae.LevelPath, &ae.TargetLevel, &status,
			&ae.CreatedBy, &ae.CreatedAt, &ae.UpdatedAt,
			&ae.Role, &ae.Submitted,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan assigned evaluation")
		}
		ae.Status = Status(status)
		ae.CreatedAt, ae.UpdatedAt = utc(ae.CreatedAt), utc(ae.UpdatedAt)
		out = append(out, ae)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assigned evaluations")
	}
	return out, nil
}

// UpdateStatus moves an evaluation from one status to another.
func (r *EvaluationRepository) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	return updateStatus(ctx, r.db, id, from, to)
}

// CloseEvaluation closes an evaluation and records its committee and final
// decisions in one transaction.
func (r *EvaluationRepository) CloseEvaluation(ctx context.Context, id string, from Status, committee, final engine.Outcome, decidedBy string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := updateStatus(ctx, tx, id, from, StatusClosed); err != nil {
			return err
		}
		return upsertDecision(ctx, tx, id, DecisionUpdate{
			Committee: &committee,
			Final:     &final,
			DecidedBy: &decidedBy,
		})
	})
}

// CloseWithApproverVote stores the approver vote, sets the final decision and
// moves the evaluation from READY_FOR_APPROVER to CLOSED in one transaction.
func (r *EvaluationRepository) CloseWithApproverVote(ctx context.Context, vote *ApproverVote, final engine.Outcome) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := updateStatus(ctx, tx, vote.EvaluationID, StatusReadyForApprover, StatusClosed); err != nil {
			return err
		}
		if err := upsertApproverVote(ctx, tx, vote); err != nil {
			return err
		}
		return upsertDecision(ctx, tx, vote.EvaluationID, DecisionUpdate{
			Final:     &final,
			DecidedBy: &vote.ApproverID,
		})
	})
}

func scanEvaluation(sc scanner) (*Evaluation, error) {
	ev := &Evaluation{}
	var status string
	err := sc.Scan(
		&ev.ID,
		&ev.CandidateID,
		&ev.CandidateName,
		&ev.Department,
		&ev.LevelPath,
		&ev.TargetLevel,
		&status,
		&ev.CreatedBy,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Status = Status(status)
	ev.CreatedAt, ev.UpdatedAt = utc(ev.CreatedAt), utc(ev.UpdatedAt)
	return ev, nil
}
