package service

import (
	"context"
	"fmt"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/logger"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
	"github.com/miladahmadkhan/promotion-panel/internal/rules"
)

// DecisionService computes committee and approver decisions from stored
// assignments and votes.
type DecisionService struct {
	base
}

// NewDecisionService creates a new decision service
func NewDecisionService(store Store, src RuleSource, log *logger.Logger) *DecisionService {
	return &DecisionService{base{store: store, rules: src, log: log}}
}

// ComputeCommitteeDecision aggregates the current votes. It never writes.
func (s *DecisionService) ComputeCommitteeDecision(ctx context.Context, evaluationID string) (res *engine.AggregationResult, err error) {
	ctx, span := startSpan(ctx, "DecisionService.ComputeCommitteeDecision", evaluationID)
	defer func() { endSpan(span, err) }()

	ev, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	return s.aggregate(ctx, ev)
}

func (s *DecisionService) aggregate(ctx context.Context, ev *repository.Evaluation) (*engine.AggregationResult, error) {
	table, rule, err := s.ruleFor(ev)
	if err != nil {
		return nil, err
	}
	assignments, err := s.store.ListAssignments(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	votes, err := s.store.ListVotes(ctx, ev.ID)
	if err != nil {
		return nil, err
	}

	in := make([]engine.Assignment, len(assignments))
	for i, a := range assignments {
		in[i] = engine.Assignment{EvaluatorID: a.UserID, Role: a.Role}
	}
	ballots := make([]engine.Ballot, len(votes))
	for i, v := range votes {
		ballots[i] = engine.Ballot{EvaluatorID: v.UserID, Ratings: v.Ratings}
	}

	res := engine.Aggregate(rule, table.Dimensions(), in, ballots)
	return &res, nil
}

// SaveCommitteeDecision stores the recomputed committee decision. Closed
// evaluations keep the decision recorded at close.
func (s *DecisionService) SaveCommitteeDecision(ctx context.Context, evaluationID, actorID string) (res *engine.AggregationResult, err error) {
	ctx, span := startSpan(ctx, "DecisionService.SaveCommitteeDecision", evaluationID)
	defer func() { endSpan(span, err) }()

	ev, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if ev.Status == repository.StatusClosed {
		return nil, errors.StateConflict(fmt.Sprintf(
			"evaluation %s is %s; the committee decision is final", ev.ID, ev.Status)).
			WithDetail("current_status", string(ev.Status))
	}

	res, err = s.aggregate(ctx, ev)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDecision(ctx, ev.ID, repository.DecisionUpdate{Committee: &res.Decision}); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		EvaluationID: ev.ID,
		Action:       AuditCommitteeSaved,
		PerformedBy:  actorID,
		Metadata: map[string]any{
			"committee_decision": string(res.Decision),
			"demonstrated_count": res.DemonstratedCount,
		},
	})

	s.log.Info().
		Str("evaluation_id", ev.ID).
		Str("committee_decision", string(res.Decision)).
		Msg("Committee decision saved")

	return res, nil
}

// ComputeFinalDecision applies the decision rule to the stored approver
// vote. Only approver-gated levels have a final decision of their own.
func (s *DecisionService) ComputeFinalDecision(ctx context.Context, evaluationID string) (res *engine.ApprovalResult, err error) {
	ctx, span := startSpan(ctx, "DecisionService.ComputeFinalDecision", evaluationID)
	defer func() { endSpan(span, err) }()

	ev, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	table, rule, err := s.ruleFor(ev)
	if err != nil {
		return nil, err
	}
	if !rule.Gated() {
		return nil, notGated(ev, rule)
	}

	vote, err := s.store.GetApproverVote(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	var ratings *engine.Ratings
	if vote != nil {
		ratings = &vote.Ratings
	}
	final := engine.FinalDecision(rule, table.Dimensions(), ratings)
	return &final, nil
}

// GetDecision returns the stored decision record.
func (s *DecisionService) GetDecision(ctx context.Context, evaluationID string) (*repository.Decision, error) {
	if _, err := s.store.GetEvaluation(ctx, evaluationID); err != nil {
		return nil, err
	}
	return s.store.GetDecision(ctx, evaluationID)
}

func notGated(ev *repository.Evaluation, rule rules.LevelRule) *errors.Error {
	return errors.StateConflict(fmt.Sprintf(
		"evaluation %s targets %s, which has no approver stage", ev.ID, rule.Target)).
		WithDetail("target_level", string(rule.Target)).
		WithDetail("current_status", string(ev.Status))
}
