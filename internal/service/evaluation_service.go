package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/miladahmadkhan/promotion-panel/internal/authz"
	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/logger"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
	"github.com/miladahmadkhan/promotion-panel/internal/rules"
)

// EvaluationService handles evaluations, assignments and evaluator votes.
type EvaluationService struct {
	base
}

// NewEvaluationService creates a new evaluation service
func NewEvaluationService(store Store, src RuleSource, notifier Notifier, log *logger.Logger) *EvaluationService {
	return &EvaluationService{base{store: store, rules: src, notifier: notifier, log: log}}
}

// CreateEvaluationRequest represents a create evaluation request
type CreateEvaluationRequest struct {
	CandidateID   string
	CandidateName string
	Department    string
	LevelPath     string
	CreatedBy     string
}

// AssignEvaluatorRequest represents an assign evaluator request
type AssignEvaluatorRequest struct {
	EvaluationID string
	UserID       string
	Role         string
	AssignedBy   string
}

// SubmitVoteRequest represents an evaluator vote submission
type SubmitVoteRequest struct {
	EvaluationID string
	EvaluatorID  string
	Ratings      []string
	Comment      *string
}

// CreateEvaluation creates an OPEN evaluation with a Pending decision.
func (s *EvaluationService) CreateEvaluation(ctx context.Context, req *CreateEvaluationRequest) (*repository.Evaluation, error) {
	candidateID := strings.TrimSpace(req.CandidateID)
	candidateName := strings.TrimSpace(req.CandidateName)
	if candidateID == "" {
		return nil, errors.InvalidInput("candidate_id", "candidate id is required")
	}
	if candidateName == "" {
		return nil, errors.InvalidInput("candidate_name", "candidate name is required")
	}

	table, err := s.rules.Table()
	if err != nil {
		return nil, err
	}
	rule, err := table.Rule(req.LevelPath)
	if errors.Is(err, errors.ErrCodeNotFound) {
		return nil, errors.InvalidInput("level_path",
			fmt.Sprintf("unknown level path %q; expected one of %v", req.LevelPath, table.LevelPaths())).
			WithDetail("level_paths", table.LevelPaths())
	}
	if err != nil {
		return nil, err
	}

	ev := &repository.Evaluation{
		CandidateID:   candidateID,
		CandidateName: candidateName,
		Department:    strings.TrimSpace(req.Department),
		LevelPath:     rule.Path,
		TargetLevel:   string(rule.Target),
		Status:        repository.StatusOpen,
		CreatedBy:     req.CreatedBy,
	}
	if err := s.store.CreateEvaluation(ctx, ev); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		EvaluationID: ev.ID,
		Action:       AuditCreated,
		PerformedBy:  req.CreatedBy,
		StatusAfter:  statusPtr(ev.Status),
		Metadata: map[string]any{
			"candidate_id": ev.CandidateID,
			"level_path":   ev.LevelPath,
			"department":   ev.Department,
		},
	})

	s.log.Info().
		Str("evaluation_id", ev.ID).
		Str("candidate_id", ev.CandidateID).
		Str("level_path", ev.LevelPath).
		Str("created_by", req.CreatedBy).
		Msg("Evaluation created")

	return ev, nil
}

// GetEvaluation retrieves an evaluation by ID
func (s *EvaluationService) GetEvaluation(ctx context.Context, id string) (*repository.Evaluation, error) {
	return s.store.GetEvaluation(ctx, id)
}

// ListEvaluations lists evaluations newest first.
func (s *EvaluationService) ListEvaluations(ctx context.Context, f repository.EvaluationFilter) ([]*repository.Evaluation, error) {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, errors.InvalidInput("status", fmt.Sprintf("unknown status %q", st))
		}
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, errors.InvalidInput("limit", "limit and offset must not be negative")
	}
	return s.store.ListEvaluations(ctx, f)
}

// AllowedRoles returns the weighted evaluator roles of the evaluation's level path.
func (s *EvaluationService) AllowedRoles(ctx context.Context, evaluationID string) ([]rules.RoleWeight, error) {
	ev, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	_, rule, err := s.ruleFor(ev)
	if err != nil {
		return nil, err
	}
	return rule.Weights, nil
}

// AssignEvaluator binds an account to an evaluation under a weighted role.
// Assigning the same account again changes its role.
func (s *EvaluationService) AssignEvaluator(ctx context.Context, req *AssignEvaluatorRequest) (*repository.Assignment, error) {
	ev, err := s.store.GetEvaluation(ctx, req.EvaluationID)
	if err != nil {
		return nil, err
	}
	if ev.Status == repository.StatusClosed {
		return nil, errors.StateConflict(fmt.Sprintf(
			"evaluation %s is %s; assignments are not accepted", ev.ID, ev.Status)).
			WithDetail("current_status", string(ev.Status))
	}

	_, rule, err := s.ruleFor(ev)
	if err != nil {
		return nil, err
	}
	if !rule.HasRole(req.Role) {
		return nil, errors.InvalidInput("evaluator_role",
			fmt.Sprintf("role %q is not weighted for %s; allowed roles: %v", req.Role, rule.Path, rule.Roles())).
			WithDetail("allowed_roles", rule.Roles())
	}

	user, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, errors.InvalidInput("user_id", fmt.Sprintf("account %s is inactive", user.Username))
	}
	if !authz.Can(authz.Role(user.Role), authz.CapabilitySubmitVote) {
		return nil, errors.InvalidInput("user_id",
			fmt.Sprintf("account %s has role %s and cannot hold assignments", user.Username, user.Role))
	}

	a := &repository.Assignment{
		EvaluationID: ev.ID,
		UserID:       user.ID,
		Role:         req.Role,
	}
	if err := s.store.UpsertAssignment(ctx, a); err != nil {
		return nil, err
	}
	a.Username, a.FullName = user.Username, user.FullName

	s.appendAudit(ctx, &repository.AuditEntry{
		EvaluationID: ev.ID,
		Action:       AuditAssigned,
		PerformedBy:  req.AssignedBy,
		Metadata: map[string]any{
			"user_id":        user.ID,
			"evaluator_role": req.Role,
		},
	})
	s.notify(ctx, EventEvaluationAssigned, ev.ID, req.AssignedBy, []string{user.ID}, map[string]any{
		"candidate_name": ev.CandidateName,
		"level_path":     ev.LevelPath,
		"evaluator_role": req.Role,
	})

	s.log.Info().
		Str("evaluation_id", ev.ID).
		Str("user_id", user.ID).
		Str("evaluator_role", req.Role).
		Msg("Evaluator assigned")

	return a, nil
}

// ListAssignments returns the assignments of an evaluation.
func (s *EvaluationService) ListAssignments(ctx context.Context, evaluationID string) ([]*repository.Assignment, error) {
	if _, err := s.store.GetEvaluation(ctx, evaluationID); err != nil {
		return nil, err
	}
	return s.store.ListAssignments(ctx, evaluationID)
}

// RegisterEvaluator creates or reuses an EVALUATOR account. The username is
// the lower-cased local part of the email.
func (s *EvaluationService) RegisterEvaluator(ctx context.Context, fullName, email string) (*repository.User, bool, error) {
	fullName, email = strings.TrimSpace(fullName), strings.TrimSpace(email)
	if fullName == "" {
		return nil, false, errors.InvalidInput("full_name", "name is required")
	}
	local, _, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return nil, false, errors.InvalidInput("email", fmt.Sprintf("%q is not an email address", email))
	}

	u := &repository.User{
		Username: strings.ToLower(local),
		FullName: fullName,
		Email:    email,
		Role:     string(authz.RoleEvaluator),
	}
	created, err := s.store.EnsureUser(ctx, u)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info().Str("user_id", u.ID).Str("username", u.Username).Msg("Evaluator account created")
	}
	return u, created, nil
}

// SetDepartments replaces the departments an HRBP account reports on.
func (s *EvaluationService) SetDepartments(ctx context.Context, userID string, departments []string) ([]string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if authz.Role(user.Role) != authz.RoleHRBP {
		return nil, errors.InvalidInput("user_id",
			fmt.Sprintf("account %s has role %s; departments map to HRBP accounts only", user.Username, user.Role))
	}
	clean := make([]string, 0, len(departments))
	for _, d := range departments {
		if d = strings.TrimSpace(d); d != "" {
			clean = append(clean, d)
		}
	}
	if err := s.store.SetUserDepartments(ctx, userID, clean); err != nil {
		return nil, err
	}
	return s.store.ListUserDepartments(ctx, userID)
}

// SubmitVote stores an evaluator's ratings, replacing any earlier vote.
func (s *EvaluationService) SubmitVote(ctx context.Context, req *SubmitVoteRequest) (*repository.Vote, error) {
	ratings, err := engine.ParseRatings(req.Ratings)
	if err != nil {
		return nil, err
	}

	ev, err := s.store.GetEvaluation(ctx, req.EvaluationID)
	if err != nil {
		return nil, err
	}
	assignment, err := s.store.GetAssignment(ctx, ev.ID, req.EvaluatorID)
	if err != nil {
		return nil, err
	}
	if ev.Status == repository.StatusClosed {
		return nil, errors.StateConflict(fmt.Sprintf(
			"evaluation %s is %s; votes are not accepted", ev.ID, ev.Status)).
			WithDetail("current_status", string(ev.Status))
	}

	v := &repository.Vote{
		EvaluationID: ev.ID,
		UserID:       req.EvaluatorID,
		Ratings:      ratings,
		Comment:      req.Comment,
	}
	if err := s.store.UpsertVote(ctx, v); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		EvaluationID: ev.ID,
		Action:       AuditVoteSubmitted,
		PerformedBy:  req.EvaluatorID,
		Metadata:     map[string]any{"evaluator_role": assignment.Role},
	})

	s.log.Info().
		Str("evaluation_id", ev.ID).
		Str("evaluator_id", req.EvaluatorID).
		Str("evaluator_role", assignment.Role).
		Msg("Vote submitted")

	return v, nil
}

// GetVote returns an evaluator's vote.
func (s *EvaluationService) GetVote(ctx context.Context, evaluationID, evaluatorID string) (*repository.Vote, error) {
	return s.store.GetVote(ctx, evaluationID, evaluatorID)
}

// ListVotes returns every evaluator vote on an evaluation.
func (s *EvaluationService) ListVotes(ctx context.Context, evaluationID string) ([]*repository.Vote, error) {
	if _, err := s.store.GetEvaluation(ctx, evaluationID); err != nil {
		return nil, err
	}
	return s.store.ListVotes(ctx, evaluationID)
}

// ListAssignedEvaluations returns the evaluations userID is assigned to.
func (s *EvaluationService) ListAssignedEvaluations(ctx context.Context, userID string) ([]*repository.AssignedEvaluation, error) {
	return s.store.ListAssignedEvaluations(ctx, userID)
}

// AuditTrail returns the audit log of an evaluation, oldest first.
func (s *EvaluationService) AuditTrail(ctx context.Context, evaluationID string) ([]*repository.AuditEntry, error) {
	if _, err := s.store.GetEvaluation(ctx, evaluationID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, evaluationID)
}
