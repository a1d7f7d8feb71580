package repository

import (
	"context"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/database"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// DecisionRepository reads and writes the per-evaluation decision record.
type DecisionRepository struct {
	db *database.DB
}

// NewDecisionRepository creates a new DecisionRepository.
func NewDecisionRepository(db *database.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// GetDecision returns the decision record of an evaluation.
func (r *DecisionRepository) GetDecision(ctx context.Context, evaluationID string) (*Decision, error) {
	d := &Decision{}
	var committee, final string
	err := r.db.QueryRow(ctx, `
		SELECT evaluation_id, committee_decision, final_decision, decided_by, decided_at, updated_at
		FROM decisions
		WHERE evaluation_id = $1
	`, evaluationID).Scan(&d.EvaluationID, &committee, &final, &d.DecidedBy, &d.DecidedAt, &d.UpdatedAt)
	if isNoRows(err) {
		return nil, errors.NotFound("decision", evaluationID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get decision")
	}
	d.Committee, d.Final = engine.Outcome(committee), engine.Outcome(final)
	d.UpdatedAt = utc(d.UpdatedAt)
	if d.DecidedAt != nil {
		t := utc(*d.DecidedAt)
		d.DecidedAt = &t
	}
	return d, nil
}

// SetDecision applies the non-nil fields of u.
func (r *DecisionRepository) SetDecision(ctx context.Context, evaluationID string, u DecisionUpdate) error {
	return upsertDecision(ctx, r.db, evaluationID, u)
}
