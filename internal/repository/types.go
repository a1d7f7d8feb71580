package repository

import (
	"time"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
)

// ── Domain records ───────────────────────────────────────────────────────────

// Status is the lifecycle state of an evaluation.
type Status string

const (
	StatusOpen             Status = "OPEN"
	StatusReadyForApprover Status = "READY_FOR_APPROVER"
	StatusClosed           Status = "CLOSED"
)

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusReadyForApprover, StatusClosed:
		return true
	}
	return false
}

// User is a system account. Role is the account role (ADMIN, HRBP, APPROVER,
// EVALUATOR), not the evaluator role used for weighting.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Evaluation is one promotion review.
type Evaluation struct {
	ID            string    `json:"id"`
	CandidateID   string    `json:"candidate_id"`
	CandidateName string    `json:"candidate_name"`
	Department    string    `json:"department,omitempty"`
	LevelPath     string    `json:"level_path"`
	TargetLevel   string    `json:"target_level"`
	Status        Status    `json:"status"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Assignment binds an evaluator to an evaluation under a weight-table role.
// Username and FullName are filled on reads.
type Assignment struct {
	ID           string    `json:"id"`
	EvaluationID string    `json:"evaluation_id"`
	UserID       string    `json:"user_id"`
	Role         string    `json:"evaluator_role"`
	Username     string    `json:"username,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AssignedEvaluation is an evaluation seen from one assignee.
type AssignedEvaluation struct {
	Evaluation
	Role      string `json:"evaluator_role"`
	Submitted bool   `json:"submitted"`
}

// Vote is one evaluator's ratings on an evaluation.
type Vote struct {
	ID           string         `json:"id"`
	EvaluationID string         `json:"evaluation_id"`
	UserID       string         `json:"user_id"`
	Ratings      engine.Ratings `json:"ratings"`
	Comment      *string        `json:"comment,omitempty"`
	SubmittedAt  time.Time      `json:"submitted_at"`
}

// ApproverVote is the single approver submission on a gated evaluation.
type ApproverVote struct {
	ID           string         `json:"id"`
	EvaluationID string         `json:"evaluation_id"`
	ApproverID   string         `json:"approver_id"`
	Ratings      engine.Ratings `json:"ratings"`
	Comment      *string        `json:"comment,omitempty"`
	SubmittedAt  time.Time      `json:"submitted_at"`
}

// Decision holds the committee and final outcomes of an evaluation.
type Decision struct {
	EvaluationID string         `json:"evaluation_id"`
	Committee    engine.Outcome `json:"committee_decision"`
	Final        engine.Outcome `json:"final_decision"`
	DecidedBy    *string        `json:"decided_by,omitempty"`
	DecidedAt    *time.Time     `json:"decided_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DecisionUpdate sets the non-nil fields of a Decision. A non-nil DecidedBy
// also stamps DecidedAt.
type DecisionUpdate struct {
	Committee *engine.Outcome
	Final     *engine.Outcome
	DecidedBy *string
}

// AuditEntry is one immutable record in the evaluation audit log.
type AuditEntry struct {
	ID           string         `json:"id"`
	EvaluationID string         `json:"evaluation_id"`
	Action       string         `json:"action"`
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EvaluationFilter narrows ListEvaluations. Empty slices match everything.
type EvaluationFilter struct {
	Statuses    []Status
	Departments []string
	Limit       int
	Offset      int
}

// StatusStrings returns the statuses as strings for query parameters.
func (f EvaluationFilter) StatusStrings() []string {
	out := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		out[i] = string(s)
	}
	return out
}
