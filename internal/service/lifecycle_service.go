package service

import (
	"context"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/logger"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
	"github.com/miladahmadkhan/promotion-panel/internal/rules"
)

// LifecycleService moves evaluations through
// OPEN → READY_FOR_APPROVER → CLOSED (gated levels) and OPEN → CLOSED
// (every other level). Every status write is conditional on the status it
// was read in.
type LifecycleService struct {
	base
	decisions *DecisionService
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(store Store, src RuleSource, decisions *DecisionService, notifier Notifier, log *logger.Logger) *LifecycleService {
	return &LifecycleService{
		base:      base{store: store, rules: src, notifier: notifier, log: log},
		decisions: decisions,
	}
}

// SubmitApproverVoteRequest represents the approver's ratings submission
type SubmitApproverVoteRequest struct {
	EvaluationID string
	ApproverID   string
	Ratings      []string
	Comment      *string
}

// MoveToApprover hands a gated evaluation to the approver.
func (s *LifecycleService) MoveToApprover(ctx context.Context, evaluationID, actorID string) (ev *repository.Evaluation, err error) {
	ctx, span := startSpan(ctx, "LifecycleService.MoveToApprover", evaluationID)
	defer func() { endSpan(span, err) }()

	ev, err = s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	_, rule, err := s.ruleFor(ev)
	if err != nil {
		return nil, err
	}
	if !rule.Gated() {
		return nil, transitionConflict(ev, rule, repository.StatusOpen, repository.StatusReadyForApprover,
			"only approver-gated levels move to the approver")
	}
	if ev.Status != repository.StatusOpen {
		return nil, transitionConflict(ev, rule, repository.StatusOpen, repository.StatusReadyForApprover, "")
	}

	if err := s.store.UpdateStatus(ctx, ev.ID, repository.StatusOpen, repository.StatusReadyForApprover); err != nil {
		return nil, withTarget(err, rule)
	}
	before := ev.Status
	ev.Status = repository.StatusReadyForApprover

	s.appendAudit(ctx, &repository.AuditEntry{
		EvaluationID: ev.ID,
		Action:       AuditReadyForApprover,
		PerformedBy:  actorID,
		StatusBefore: statusPtr(before),
		StatusAfter:  statusPtr(ev.Status),
	})
	s.notify(ctx, EventEvaluationReadyForApprover, ev.ID, actorID, s.approverIDs(ctx), map[string]any{
		"candidate_name": ev.CandidateName,
		"level_path":     ev.LevelPath,
	})

	s.log.Info().
		Str("evaluation_id", ev.ID).
		Str("target_level", ev.TargetLevel).
		Msg("Evaluation moved to approver")

	return s.store.GetEvaluation(ctx, ev.ID)
}

// Close closes an ungated evaluation. The committee decision is recomputed
// and stored as both the committee and the final decision together with the
// status change.
func (s *LifecycleService) Close(ctx context.Context, evaluationID, actorID string) (d *repository.Decision, err error) {
	ctx, span := startSpan(ctx, "LifecycleService.Close", evaluationID)
	defer func() { endSpan(span, err) }()

	ev, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	_, rule, err := s.ruleFor(ev)
	if err != nil {
		return nil, err
	}
	if rule.Gated() {
		return nil, transitionConflict(ev, rule, repository.StatusReadyForApprover, repository.StatusClosed,
			"approver-gated levels close through the approver vote")
	}
	if ev.Status != repository.StatusOpen {
		return nil, transitionConflict(ev, rule, repository.StatusOpen, repository.StatusClosed, "")
	}

	committee, err := s.decisions.aggregate(ctx, ev)
	if err != nil {
		return nil, err
	}
	if err := s.store.CloseEvaluation(ctx, ev.ID, repository.StatusOpen, committee.Decision, committee.Decision, actorID); err != nil {
		return nil, withTarget(err, rule)
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		EvaluationID: ev.ID,
		Action:       AuditClosed,
		PerformedBy:  actorID,
		StatusBefore: statusPtr(repository.StatusOpen),
		StatusAfter:  statusPtr(repository.StatusClosed),
		Metadata: map[string]any{
			"committee_decision": string(committee.Decision),
			"final_decision":     string(committee.Decision),
			"demonstrated_count": committee.DemonstratedCount,
			"missing_count":      committee.MissingCount,
		},
	})
	s.notify(ctx, EventEvaluationClosed, ev.ID, actorID, []string{ev.CreatedBy}, map[string]any{
		"candidate_name": ev.CandidateName,
		"final_decision": string(committee.Decision),
	})

	s.log.Info().
		Str("evaluation_id", ev.ID).
		Str("final_decision", string(committee.Decision)).
		Int("missing_count", committee.MissingCount).
		Msg("Evaluation closed")

	return s.store.GetDecision(ctx, ev.ID)
}

// SubmitApproverVote records the approver's ratings, derives the final
// decision from them and closes the evaluation in one transaction.
func (s *LifecycleService) SubmitApproverVote(ctx context.Context, req *SubmitApproverVoteRequest) (res *engine.ApprovalResult, err error) {
	ctx, span := startSpan(ctx, "LifecycleService.SubmitApproverVote", req.EvaluationID)
	defer func() { endSpan(span, err) }()

	ratings, err := engine.ParseRatings(req.Ratings)
	if err != nil {
		return nil, err
	}
	ev, err := s.store.GetEvaluation(ctx, req.EvaluationID)
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
	if ev.Status != repository.StatusReadyForApprover {
		return nil, transitionConflict(ev, rule, repository.StatusReadyForApprover, repository.StatusClosed, "")
	}

	final := engine.FinalDecision(rule, table.Dimensions(), &ratings)
	vote := &repository.ApproverVote{
		EvaluationID: ev.ID,
		ApproverID:   req.ApproverID,
		Ratings:      ratings,
		Comment:      req.Comment,
	}
	if err := s.store.CloseWithApproverVote(ctx, vote, final.Decision); err != nil {
		return nil, withTarget(err, rule)
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		EvaluationID: ev.ID,
		Action:       AuditApproverSubmitted,
		PerformedBy:  req.ApproverID,
		StatusBefore: statusPtr(repository.StatusReadyForApprover),
		StatusAfter:  statusPtr(repository.StatusClosed),
		Metadata: map[string]any{
			"final_decision":     string(final.Decision),
			"demonstrated_count": final.DemonstratedCount,
			"failed_critical":    final.FailedCritical,
		},
	})
	s.notify(ctx, EventEvaluationClosed, ev.ID, req.ApproverID, []string{ev.CreatedBy}, map[string]any{
		"candidate_name": ev.CandidateName,
		"final_decision": string(final.Decision),
	})

	s.log.Info().
		Str("evaluation_id", ev.ID).
		Str("approver_id", req.ApproverID).
		Str("final_decision", string(final.Decision)).
		Msg("Approver decision recorded")

	return &final, nil
}

// ListAwaitingApproval returns the evaluations in READY_FOR_APPROVER.
func (s *LifecycleService) ListAwaitingApproval(ctx context.Context) ([]*repository.Evaluation, error) {
	return s.store.ListEvaluations(ctx, repository.EvaluationFilter{
		Statuses: []repository.Status{repository.StatusReadyForApprover},
	})
}

func (s *LifecycleService) approverIDs(ctx context.Context) []string {
	approvers, err := s.store.ListUsersByRole(ctx, "APPROVER")
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not list approvers; notification will have no recipients")
		return nil
	}
	ids := make([]string, len(approvers))
	for i, u := range approvers {
		ids[i] = u.ID
	}
	return ids
}

// transitionConflict reports a transition that is illegal for the
// evaluation's current status or level.
func transitionConflict(ev *repository.Evaluation, rule rules.LevelRule, expected, requested repository.Status, reason string) *errors.Error {
	err := repository.StatusConflict(ev.ID, ev.Status, expected, requested).
		WithDetail("target_level", string(rule.Target))
	if reason != "" {
		err.Message += " (" + string(rule.Target) + ": " + reason + ")"
	} else {
		err.Message += " (target level " + string(rule.Target) + ")"
	}
	return err
}

// withTarget adds the target level to a conflict raised by a conditional
// status write.
func withTarget(err error, rule rules.LevelRule) error {
	var appErr *errors.Error
	if errors.As(err, &appErr) && appErr.Code == errors.ErrCodeConflict {
		return appErr.WithDetail("target_level", string(rule.Target))
	}
	return err
}
