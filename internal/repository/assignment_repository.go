package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/miladahmadkhan/promotion-panel/internal/platform/database"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// AssignmentRepository binds evaluators to evaluations. There is at most one
// assignment per (evaluation, user); assigning again changes the role.
type AssignmentRepository struct {
	db *database.DB
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(db *database.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// UpsertAssignment creates the assignment or updates its role in place.
func (r *AssignmentRepository) UpsertAssignment(ctx context.Context, a *Assignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO assignments (id, evaluation_id, user_id, evaluator_role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (evaluation_id, user_id) DO UPDATE
		SET evaluator_role = EXCLUDED.evaluator_role,
		    updated_at     = NOW()
		RETURNING id, created_at, updated_at
	`, a.ID, a.EvaluationID, a.UserID, a.Role).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return errors.NotFound("evaluation or user", a.EvaluationID+"/"+a.UserID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save assignment")
	}
	a.CreatedAt, a.UpdatedAt = utc(a.CreatedAt), utc(a.UpdatedAt)
	return nil
}

// GetAssignment returns the assignment of userID on evaluationID.
func (r *AssignmentRepository) GetAssignment(ctx context.Context, evaluationID, userID string) (*Assignment, error) {
	a, err := scanAssignment(r.db.QueryRow(ctx, `
		SELECT a.id, a.evaluation_id, a.user_id, a.evaluator_role,
		       u.username, u.full_name, a.created_at, a.updated_at
		FROM assignments a
		JOIN users u ON u.id = a.user_id
		WHERE a.evaluation_id = $1 AND a.user_id = $2
	`, evaluationID, userID))
	if isNoRows(err) {
		return nil, errors.NotFound("assignment", evaluationID+"/"+userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get assignment")
	}
	return a, nil
}

// ListAssignments returns every assignment on an evaluation, oldest first.
func (r *AssignmentRepository) ListAssignments(ctx context.Context, evaluationID string) ([]*Assignment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.evaluation_id, a.user_id, a.evaluator_role,
		       u.username, u.full_name, a.created_at, a.updated_at
		FROM assignments a
		JOIN users u ON u.id = a.user_id
		WHERE a.evaluation_id = $1
		ORDER BY a.created_at ASC, a.id
	`, evaluationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assignments")
	}
	defer rows.Close()

	out := make([]*Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan assignment")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assignments")
	}
	return out, nil
}

func scanAssignment(sc scanner) (*Assignment, error) {
	a := &Assignment{}
	err := sc.Scan(
		&a.ID,
		&a.EvaluationID,
		&a.UserID,
		&a.Role,
		&a.Username,
		&a.FullName,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.CreatedAt, a.UpdatedAt = utc(a.CreatedAt), utc(a.UpdatedAt)
	return a, nil
}
