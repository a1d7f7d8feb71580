package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/miladahmadkhan/promotion-panel/internal/platform/database"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// VoteRepository stores evaluator votes and the approver vote. Both are
// last-write-wins upserts on their unique key.
type VoteRepository struct {
	db *database.DB
}

// NewVoteRepository creates a new VoteRepository.
func NewVoteRepository(db *database.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// UpsertVote stores the vote, replacing any earlier vote by the same
// evaluator on the same evaluation.
func (r *VoteRepository) UpsertVote(ctx context.Context, v *Vote) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO votes (id, evaluation_id, user_id, ratings, comment, submitted_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (evaluation_id, user_id) DO UPDATE
		SET ratings      = EXCLUDED.ratings,
		    comment      = EXCLUDED.comment,
		    submitted_at = EXCLUDED.submitted_at
		RETURNING id, submitted_at
	`, v.ID, v.EvaluationID, v.UserID, v.Ratings.Strings(), v.Comment).Scan(&v.ID, &v.SubmittedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return errors.NotFound("evaluation or user", v.EvaluationID+"/"+v.UserID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save vote")
	}
	v.SubmittedAt = utc(v.SubmittedAt)
	return nil
}

// GetVote returns userID's vote on evaluationID.
func (r *VoteRepository) GetVote(ctx context.Context, evaluationID, userID string) (*Vote, error) {
	v, err := scanVote(r.db.QueryRow(ctx, `
		SELECT id, evaluation_id, user_id, ratings, comment, submitted_at
		FROM votes
		WHERE evaluation_id = $1 AND user_id = $2
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
func (r *VoteRepository) ListVotes(ctx context.Context, evaluationID string) ([]*Vote, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, evaluation_id, user_id, ratings, comment, submitted_at
		FROM votes
		WHERE evaluation_id = $1
		ORDER BY user_id
	`, evaluationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list votes")
	}
	defer rows.Close()

	out := make([]*Vote, 0)
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list votes")
	}
	return out, nil
}

// UpsertApproverVote stores the approver vote, replacing any earlier one.
// Lifecycle code closes the evaluation through CloseWithApproverVote instead.
func (r *VoteRepository) UpsertApproverVote(ctx context.Context, v *ApproverVote) error {
	return upsertApproverVote(ctx, r.db, v)
}

// GetApproverVote returns the approver vote, or nil when none exists.
func (r *VoteRepository) GetApproverVote(ctx context.Context, evaluationID string) (*ApproverVote, error) {
	v := &ApproverVote{}
	var ratings []string
	err := r.db.QueryRow(ctx, `
		SELECT id, evaluation_id, approver_id, ratings, comment, submitted_at
		FROM approver_votes
		WHERE evaluation_id = $1
	`, evaluationID).Scan(&v.ID, &v.EvaluationID, &v.ApproverID, &ratings, &v.Comment, &v.SubmittedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approver vote")
	}
	if v.Ratings, err = ratingsFromStrings(ratings); err != nil {
		return nil, err
	}
	v.SubmittedAt = utc(v.SubmittedAt)
	return v, nil
}

func upsertApproverVote(ctx context.Context, q querier, v *ApproverVote) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO approver_votes (id, evaluation_id, approver_id, ratings, comment, submitted_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (evaluation_id) DO UPDATE
		SET approver_id  = EXCLUDED.approver_id,
		    ratings      = EXCLUDED.ratings,
		    comment      = EXCLUDED.comment,
		    submitted_at = EXCLUDED.submitted_at
		RETURNING id, submitted_at
	`, v.ID, v.EvaluationID, v.ApproverID, v.Ratings.Strings(), v.Comment).Scan(&v.ID, &v.SubmittedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return errors.NotFound("evaluation or user", v.EvaluationID+"/"+v.ApproverID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save approver vote")
	}
	v.SubmittedAt = utc(v.SubmittedAt)
	return nil
}

func scanVote(sc scanner) (*Vote, error) {
	v := &Vote{}
	var ratings []string
	if err := sc.Scan(&v.ID, &v.EvaluationID, &v.UserID, &ratings, &v.Comment, &v.SubmittedAt); err != nil {
		return nil, err
	}
	var err error
	if v.Ratings, err = ratingsFromStrings(ratings); err != nil {
		return nil, err
	}
	v.SubmittedAt = utc(v.SubmittedAt)
	return v, nil
}
