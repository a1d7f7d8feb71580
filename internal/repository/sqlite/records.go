package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
)

// UpsertAssignment creates the assignment or updates its role in place.
func (s *Store) UpsertAssignment(ctx context.Context, a *repository.Assignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := toMillis(s.now())
	var createdAt, updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
		INSERT INTO assignments (id, evaluation_id, user_id, evaluator_role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (evaluation_id, user_id) DO UPDATE
		SET evaluator_role = excluded.evaluator_role,
		    updated_at     = excluded.updated_at
		RETURNING id, created_at, updated_at
	`, a.ID, a.EvaluationID, a.UserID, a.Role, now, now).Scan(&a.ID, &createdAt, &updatedAt)
	if isForeignKeyViolation(err) {
		return errors.NotFound("evaluation or user", a.EvaluationID+"/"+a.UserID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save assignment")
	}
	a.CreatedAt, a.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	return nil
}

const assignmentSelect = `
	SELECT a.id, a.evaluation_id, a.user_id, a.evaluator_role,
	       u.username, u.full_name, a.created_at, a.updated_at
	FROM assignments a
	JOIN users u ON u.id = a.user_id`

// GetAssignment returns the assignment of userID on evaluationID.
func (s *Store) GetAssignment(ctx context.Context, evaluationID, userID string) (*repository.Assignment, error) {
	a, err := scanAssignment(s.sqlDB.QueryRowContext(ctx,
		assignmentSelect+` WHERE a.evaluation_id = ? AND a.user_id = ?`, evaluationID, userID))
	if isNoRows(err) {
		return nil, errors.NotFound("assignment", evaluationID+"/"+userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get assignment")
	}
	return a, nil
}

// ListAssignments returns every assignment on an evaluation, oldest first.
func (s *Store) ListAssignments(ctx context.Context, evaluationID string) ([]*repository.Assignment, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		assignmentSelect+` WHERE a.evaluation_id = ? ORDER BY a.created_at ASC, a.rowid`, evaluationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assignments")
	}
	defer rows.Close()

	out := make([]*repository.Assignment, 0)
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

// UpsertVote stores the vote, replacing any earlier vote by the same
// evaluator on the same evaluation.
func (s *Store) UpsertVote(ctx context.Context, v *repository.Vote) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	ratings, err := encodeRatings(v.Ratings)
	if err != nil {
		return err
	}
	var submittedAt int64
	err = s.sqlDB.QueryRowContext(ctx, `
		INSERT INTO votes (id, evaluation_id, user_id, ratings, comment, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (evaluation_id, user_id) DO UPDATE
		SET ratings      = excluded.ratings,
		    comment      = excluded.comment,
		    submitted_at = excluded.submitted_at
		RETURNING id, submitted_at
	`, v.ID, v.EvaluationID, v.UserID, ratings, stringArg(v.Comment), toMillis(s.now())).Scan(&v.ID, &submittedAt)
	if isForeignKeyViolation(err) {
		return errors.NotFound("evaluation or user", v.EvaluationID+"/"+v.UserID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save vote")
	}
	v.SubmittedAt = fromMillis(submittedAt)
	return nil
}

// GetVote returns userID's vote on evaluationID.
func (s *Store) GetVote(ctx context.Context, evaluationID, userID string) (*repository.Vote, error) {
	v, err := scanVote(s.sqlDB.QueryRowContext(ctx, `
		SELECT id, evaluation_id, user_id, ratings, comment, submitted_at
		FROM votes
		WHERE evaluation_id = ? AND user_id = ?
	`, evaluationID, userID))
	if isNoRows(err) {
		return nil, errors.NotFound("vote", evaluationID+"/"+userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get vote")
	}
	return v, nil
}

// ListVotes returns all votes on an evaluation ordered by voter.
func (s *Store) ListVotes(ctx context.Context, evaluationID string) ([]*repository.Vote, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, evaluation_id, user_id, ratings, comment, submitted_at
		FROM votes
		WHERE evaluation_id = ?
		ORDER BY user_id
	`, evaluationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list votes")
	}
	defer rows.Close()

	out := make([]*repository.Vote, 0)
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan vote")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list votes")
	}
	return out, nil
}

// UpsertApproverVote stores the approver vote, replacing any earlier one.
func (s *Store) UpsertApproverVote(ctx context.Context, v *repository.ApproverVote) error {
	return s.upsertApproverVote(ctx, s.sqlDB, v)
}

// GetApproverVote returns the approver vote, or nil when none exists.
func (s *Store) GetApproverVote(ctx context.Context, evaluationID string) (*repository.ApproverVote, error) {
	v := &repository.ApproverVote{}
	var ratings string
	var submittedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
		SELECT id, evaluation_id, approver_id, ratings, comment, submitted_at
		FROM approver_votes
		WHERE evaluation_id = ?
	`, evaluationID).Scan(&v.ID, &v.EvaluationID, &v.ApproverID, &ratings, &v.Comment, &submittedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approver vote")
	}
	if v.Ratings, err = decodeRatings(ratings); err != nil {
		return nil, err
	}
	v.SubmittedAt = fromMillis(submittedAt)
	return v, nil
}

func (s *Store) upsertApproverVote(ctx context.Context, q querier, v *repository.ApproverVote) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	ratings, err := encodeRatings(v.Ratings)
	if err != nil {
		return err
	}
	var submittedAt int64
	err = q.QueryRowContext(ctx, `
		INSERT INTO approver_votes (id, evaluation_id, approver_id, ratings, comment, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (evaluation_id) DO UPDATE
		SET approver_id  = excluded.approver_id,
		    ratings      = excluded.ratings,
		    comment      = excluded.comment,
		    submitted_at = excluded.submitted_at
		RETURNING id, submitted_at
	`, v.ID, v.EvaluationID, v.ApproverID, ratings, stringArg(v.Comment), toMillis(s.now())).Scan(&v.ID, &submittedAt)
	if isForeignKeyViolation(err) {
		return errors.NotFound("evaluation or user", v.EvaluationID+"/"+v.ApproverID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save approver vote")
	}
	v.SubmittedAt = fromMillis(submittedAt)
	return nil
}

// GetDecision returns the decision record of an evaluation.
func (s *Store) GetDecision(ctx context.Context, evaluationID string) (*repository.Decision, error) {
	d := &repository.Decision{}
	var committee, final string
	var decidedBy sql.NullString
	var decidedAt sql.NullInt64
	var updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
		SELECT evaluation_id, committee_decision, final_decision, decided_by, decided_at, updated_at
		FROM decisions
		WHERE evaluation_id = ?
	`, evaluationID).Scan(&d.EvaluationID, &committee, &final, &decidedBy, &decidedAt, &updatedAt)
	if isNoRows(err) {
		return nil, errors.NotFound("decision", evaluationID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get decision")
	}
	d.Committee, d.Final = engine.Outcome(committee), engine.Outcome(final)
	d.UpdatedAt = fromMillis(updatedAt)
	if decidedBy.Valid {
		d.DecidedBy = &decidedBy.String
	}
	if decidedAt.Valid {
		t := fromMillis(decidedAt.Int64)
		d.DecidedAt = &t
	}
	return d, nil
}

// SetDecision applies the non-nil fields of u.
func (s *Store) SetDecision(ctx context.Context, evaluationID string, u repository.DecisionUpdate) error {
	return s.upsertDecision(ctx, s.sqlDB, evaluationID, u)
}

func scanAssignment(sc scanner) (*repository.Assignment, error) {
	a := &repository.Assignment{}
	var createdAt, updatedAt int64
	err := sc.Scan(
		&a.ID,
		&a.EvaluationID,
		&a.UserID,
		&a.Role,
		&a.Username,
		&a.FullName,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.CreatedAt, a.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	return a, nil
}

func scanVote(sc scanner) (*repository.Vote, error) {
	v := &repository.Vote{}
	var ratings string
	var submittedAt int64
	if err := sc.Scan(&v.ID, &v.EvaluationID, &v.UserID, &ratings, &v.Comment, &submittedAt); err != nil {
		return nil, err
	}
	var err error
	if v.Ratings, err = decodeRatings(ratings); err != nil {
		return nil, err
	}
	v.SubmittedAt = fromMillis(submittedAt)
	return v, nil
}
