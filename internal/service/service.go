// Package service implements the evaluation lifecycle and the decision
// operations on top of the rule table, the engine and a Store.
package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/logger"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/telemetry"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
	"github.com/miladahmadkhan/promotion-panel/internal/rules"
)

// Store is the persistence contract. Both the PostgreSQL store and the
// SQLite store implement it.
type Store interface {
	CreateEvaluation(ctx context.Context, ev *repository.Evaluation) error
	GetEvaluation(ctx context.Context, id string) (*repository.Evaluation, error)
	ListEvaluations(ctx context.Context, f repository.EvaluationFilter) ([]*repository.Evaluation, error)
	ListAssignedEvaluations(ctx context.Context, userID string) ([]*repository.AssignedEvaluation, error)
	UpdateStatus(ctx context.Context, id string, from, to repository.Status) error
	CloseEvaluation(ctx context.Context, id string, from repository.Status, committee, final engine.Outcome, decidedBy string) error
	CloseWithApproverVote(ctx context.Context, vote *repository.ApproverVote, final engine.Outcome) error

	UpsertAssignment(ctx context.Context, a *repository.Assignment) error
	GetAssignment(ctx context.Context, evaluationID, userID string) (*repository.Assignment, error)
	ListAssignments(ctx context.Context, evaluationID string) ([]*repository.Assignment, error)

	UpsertVote(ctx context.Context, v *repository.Vote) error
	GetVote(ctx context.Context, evaluationID, userID string) (*repository.Vote, error)
	ListVotes(ctx context.Context, evaluationID string) ([]*repository.Vote, error)
	GetApproverVote(ctx context.Context, evaluationID string) (*repository.ApproverVote, error)

	GetDecision(ctx context.Context, evaluationID string) (*repository.Decision, error)
	SetDecision(ctx context.Context, evaluationID string, u repository.DecisionUpdate) error

	EnsureUser(ctx context.Context, u *repository.User) (bool, error)
	GetUser(ctx context.Context, id string) (*repository.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]*repository.User, error)
	SetUserDepartments(ctx context.Context, userID string, departments []string) error
	ListUserDepartments(ctx context.Context, userID string) ([]string, error)

	AppendAudit(ctx context.Context, entry *repository.AuditEntry) error
	ListAudit(ctx context.Context, evaluationID string) ([]*repository.AuditEntry, error)

	Ping(ctx context.Context) error
}

// RuleSource hands out the current rule table. *rules.Loader implements it.
type RuleSource interface {
	Table() (*rules.Table, error)
}

// Notifier publishes evaluation events. Implementations must not block the
// caller on delivery failures.
type Notifier interface {
	PublishEvaluationEvent(ctx context.Context, eventType, evaluationID, actorID string, recipients []string, payload map[string]any)
}

// Notification event types.
const (
	EventEvaluationAssigned         = "evaluation_assigned"
	EventEvaluationReadyForApprover = "evaluation_ready_for_approver"
	EventEvaluationClosed           = "evaluation_closed"
)

// Audit actions.
const (
	AuditCreated           = "created"
	AuditAssigned          = "assigned"
	AuditVoteSubmitted     = "vote_submitted"
	AuditCommitteeSaved    = "committee_saved"
	AuditReadyForApprover  = "ready_for_approver"
	AuditClosed            = "closed"
	AuditApproverSubmitted = "approver_submitted"
)

// base carries the dependencies shared by every service.
type base struct {
	store    Store
	rules    RuleSource
	notifier Notifier
	log      *logger.Logger
}

func (b *base) notify(ctx context.Context, eventType, evaluationID, actorID string, recipients []string, payload map[string]any) {
	if b.notifier == nil {
		return
	}
	b.notifier.PublishEvaluationEvent(ctx, eventType, evaluationID, actorID, recipients, payload)
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (b *base) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := b.store.AppendAudit(ctx, entry); err != nil {
		b.log.Warn().Err(err).
			Str("evaluation_id", entry.EvaluationID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// ruleFor resolves the rule table and the rule of an evaluation.
func (b *base) ruleFor(ev *repository.Evaluation) (*rules.Table, rules.LevelRule, error) {
	table, err := b.rules.Table()
	if err != nil {
		return nil, rules.LevelRule{}, err
	}
	rule, err := table.Rule(ev.LevelPath)
	if err != nil {
		return nil, rules.LevelRule{}, err
	}
	return table, rule, nil
}

func startSpan(ctx context.Context, name, evaluationID string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name,
		trace.WithAttributes(attribute.String("evaluation.id", evaluationID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func statusPtr(s repository.Status) *string {
	v := string(s)
	return &v
}
