package service

import (
	"context"
	"fmt"
	"time"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/logger"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
	"github.com/miladahmadkhan/promotion-panel/internal/rules"
)

// ReportService assembles the read-only evaluation report and scopes HRBP
// accounts to their departments.
type ReportService struct {
	base
	decisions *DecisionService
}

// NewReportService creates a new report service
func NewReportService(store Store, src RuleSource, decisions *DecisionService, log *logger.Logger) *ReportService {
	return &ReportService{
		base:      base{store: store, rules: src, log: log},
		decisions: decisions,
	}
}

// CompletionRow tells whether one assigned evaluator has voted.
type CompletionRow struct {
	UserID      string     `json:"user_id"`
	Username    string     `json:"username"`
	FullName    string     `json:"full_name"`
	Role        string     `json:"evaluator_role"`
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// VoteRow is one evaluator's ratings in the report.
type VoteRow struct {
	UserID      string         `json:"user_id"`
	FullName    string         `json:"full_name"`
	Role        string         `json:"evaluator_role"`
	Ratings     engine.Ratings `json:"ratings"`
	Comment     *string        `json:"comment,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Report is everything known about one evaluation.
type Report struct {
	Evaluation *repository.Evaluation       `json:"evaluation"`
	Dimensions [rules.DimensionCount]string `json:"dimensions"`
	Completion []CompletionRow              `json:"completion"`
	Votes      []VoteRow                    `json:"votes"`
	Committee  *engine.AggregationResult    `json:"committee"`
	Decision   *repository.Decision         `json:"decision"`
	Final      *engine.ApprovalResult       `json:"final,omitempty"`
}

// Report builds the report of an evaluation.
func (s *ReportService) Report(ctx context.Context, evaluationID string) (r *Report, err error) {
	ctx, span := startSpan(ctx, "ReportService.Report", evaluationID)
	defer func() { endSpan(span, err) }()

	ev, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
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

	byVoter := make(map[string]*repository.Vote, len(votes))
	for _, v := range votes {
		byVoter[v.UserID] = v
	}
	byAssignee := make(map[string]*repository.Assignment, len(assignments))

	r = &Report{
		Evaluation: ev,
		Dimensions: table.Dimensions(),
		Completion: make([]CompletionRow, 0, len(assignments)),
		Votes:      make([]VoteRow, 0, len(votes)),
	}
	for _, a := range assignments {
		byAssignee[a.UserID] = a
		row := CompletionRow{UserID: a.UserID, Username: a.Username, FullName: a.FullName, Role: a.Role}
		if v, ok := byVoter[a.UserID]; ok {
			at := v.SubmittedAt
			row.Submitted, row.SubmittedAt = true, &at
		}
		r.Completion = append(r.Completion, row)
	}
	for _, v := range votes {
		row := VoteRow{UserID: v.UserID, Ratings: v.Ratings, Comment: v.Comment, SubmittedAt: v.SubmittedAt}
		if a, ok := byAssignee[v.UserID]; ok {
			row.FullName, row.Role = a.FullName, a.Role
		}
		r.Votes = append(r.Votes, row)
	}

	if r.Committee, err = s.decisions.aggregate(ctx, ev); err != nil {
		return nil, err
	}
	if r.Decision, err = s.store.GetDecision(ctx, ev.ID); err != nil {
		return nil, err
	}
	if rule.Gated() {
		if r.Final, err = s.decisions.ComputeFinalDecision(ctx, ev.ID); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ListForDepartments returns the evaluations in the departments mapped to
// userID, with the departments themselves. No mapping means no evaluations.
func (s *ReportService) ListForDepartments(ctx context.Context, userID string) ([]*repository.Evaluation, []string, error) {
	departments, err := s.store.ListUserDepartments(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if len(departments) == 0 {
		return []*repository.Evaluation{}, departments, nil
	}
	evaluations, err := s.store.ListEvaluations(ctx, repository.EvaluationFilter{Departments: departments})
	if err != nil {
		return nil, nil, err
	}
	return evaluations, departments, nil
}

// CheckDepartment returns Forbidden unless the evaluation's department is
// mapped to userID.
func (s *ReportService) CheckDepartment(ctx context.Context, userID, evaluationID string) error {
	ev, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return err
	}
	departments, err := s.store.ListUserDepartments(ctx, userID)
	if err != nil {
		return err
	}
	for _, d := range departments {
		if d == ev.Department {
			return nil
		}
	}
	return errors.Forbidden(fmt.Sprintf(
		"evaluation %s belongs to department %q, which is not mapped to you", ev.ID, ev.Department)).
		WithDetail("department", ev.Department).
		WithDetail("departments", departments)
}
