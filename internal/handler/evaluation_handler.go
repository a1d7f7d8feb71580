package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/miladahmadkhan/promotion-panel/internal/authz"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
	"github.com/miladahmadkhan/promotion-panel/internal/service"
)

type transitionRequest struct {
	EvaluationID string `json:"evaluation_id"`
}

type ratingsRequest struct {
	EvaluationID string   `json:"evaluation_id"`
	Ratings      []string `json:"ratings"`
	Comment      *string  `json:"comment,omitempty"`
}

// Evaluations lists evaluations (GET) or creates one (POST).
func (h *HTTPHandler) Evaluations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ListEvaluations(w, r)
	case http.MethodPost:
		h.CreateEvaluation(w, r)
	default:
		allowMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

// CreateEvaluation handles create evaluation HTTP requests
func (h *HTTPHandler) CreateEvaluation(w http.ResponseWriter, r *http.Request) {
	c, ok := h.authorize(w, r, authz.CapabilityCreateEvaluation)
	if !ok {
		return
	}
	var req struct {
		CandidateID   string `json:"candidate_id"`
		CandidateName string `json:"candidate_name"`
		Department    string `json:"department"`
		LevelPath     string `json:"level_path"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := h.evaluations.CreateEvaluation(r.Context(), &service.CreateEvaluationRequest{
		CandidateID:   req.CandidateID,
		CandidateName: req.CandidateName,
		Department:    req.Department,
		LevelPath:     req.LevelPath,
		CreatedBy:     c.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// ListEvaluations handles list evaluations HTTP requests. Query parameters:
// status (repeatable or comma separated), department, limit, offset.
func (h *HTTPHandler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, authz.CapabilityReadAllEvaluations); !ok {
		return
	}
	q := r.URL.Query()

	var f repository.EvaluationFilter
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, repository.Status(strings.ToUpper(s)))
			}
		}
	}
	if d := strings.TrimSpace(q.Get("department")); d != "" {
		f.Departments = []string{d}
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, errors.InvalidInput(name, fmt.Sprintf("%q is not a number", raw)))
			return
		}
		*dst = n
	}

	list, err := h.evaluations.ListEvaluations(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": list, "total": len(list)})
}

// GetEvaluation returns one evaluation to readers of all evaluations or to
// its assignees.
func (h *HTTPHandler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	if !authz.Can(authz.Role(c.Role), authz.CapabilityReadAllEvaluations) {
		mine, err := h.evaluations.ListAssignedEvaluations(r.Context(), c.UserID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		for _, a := range mine {
			if a.ID == id {
				writeJSON(w, http.StatusOK, a)
				return
			}
		}
		h.writeError(w, r, errors.Forbidden(fmt.Sprintf("you are not assigned to evaluation %s", id)).
			WithDetail("required_capability", string(authz.CapabilityReadAllEvaluations)))
		return
	}

	ev, err := h.evaluations.GetEvaluation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// AssignEvaluator handles assign evaluator HTTP requests
func (h *HTTPHandler) AssignEvaluator(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	c, ok := h.authorize(w, r, authz.CapabilityAssignEvaluator)
	if !ok {
		return
	}
	var req struct {
		EvaluationID  string `json:"evaluation_id"`
		UserID        string `json:"user_id"`
		EvaluatorRole string `json:"evaluator_role"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.evaluations.AssignEvaluator(r.Context(), &service.AssignEvaluatorRequest{
		EvaluationID: req.EvaluationID,
		UserID:       req.UserID,
		Role:         req.EvaluatorRole,
		AssignedBy:   c.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListAssignments returns the assignments of an evaluation.
func (h *HTTPHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := h.authorize(w, r, authz.CapabilityReadAllEvaluations); !ok {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}
	list, err := h.evaluations.ListAssignments(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": list, "total": len(list)})
}

// AllowedRoles returns the weighted roles an evaluator can be assigned under.
func (h *HTTPHandler) AllowedRoles(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := h.authorize(w, r, authz.CapabilityAssignEvaluator); !ok {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}
	roles, err := h.evaluations.AllowedRoles(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluation_id": id, "roles": roles})
}

// Vote returns (GET) or submits (POST) the caller's own vote.
func (h *HTTPHandler) Vote(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	c, ok := h.authorize(w, r, authz.CapabilitySubmitVote)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		id, ok := h.requireID(w, r)
		if !ok {
			return
		}
		v, err := h.evaluations.GetVote(r.Context(), id, c.UserID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
		return
	}

	var req ratingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.evaluations.SubmitVote(r.Context(), &service.SubmitVoteRequest{
		EvaluationID: req.EvaluationID,
		EvaluatorID:  c.UserID,
		Ratings:      req.Ratings,
		Comment:      req.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// CommitteeDecision recomputes the committee decision without storing it.
func (h *HTTPHandler) CommitteeDecision(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	c, ok := h.authorize(w, r, authz.CapabilityReadAllEvaluations, authz.CapabilityDepartmentReport)
	if !ok {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}
	if err := h.scope(r.Context(), c, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.decisions.ComputeCommitteeDecision(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SaveCommitteeDecision stores the recomputed committee decision.
func (h *HTTPHandler) SaveCommitteeDecision(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	c, ok := h.authorize(w, r, authz.CapabilityTransitionEvaluation)
	if !ok {
		return
	}
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.decisions.SaveCommitteeDecision(r.Context(), req.EvaluationID, c.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MoveToApprover hands a gated evaluation to the approver.
func (h *HTTPHandler) MoveToApprover(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	c, ok := h.authorize(w, r, authz.CapabilityTransitionEvaluation)
	if !ok {
		return
	}
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := h.lifecycle.MoveToApprover(r.Context(), req.EvaluationID, c.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// CloseEvaluation closes an ungated evaluation.
func (h *HTTPHandler) CloseEvaluation(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	c, ok := h.authorize(w, r, authz.CapabilityTransitionEvaluation)
	if !ok {
		return
	}
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.lifecycle.Close(r.Context(), req.EvaluationID, c.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// SubmitApproverVote records the approver's ratings and closes the evaluation.
func (h *HTTPHandler) SubmitApproverVote(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	c, ok := h.authorize(w, r, authz.CapabilitySubmitApproverVote)
	if !ok {
		return
	}
	var req ratingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.lifecycle.SubmitApproverVote(r.Context(), &service.SubmitApproverVoteRequest{
		EvaluationID: req.EvaluationID,
		ApproverID:   c.UserID,
		Ratings:      req.Ratings,
		Comment:      req.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// FinalDecision applies the decision rule to the stored approver vote.
func (h *HTTPHandler) FinalDecision(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	c, ok := h.authorize(w, r, authz.CapabilityReadAllEvaluations, authz.CapabilityDepartmentReport, authz.CapabilitySubmitApproverVote)
	if !ok {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}
	if err := h.scope(r.Context(), c, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.decisions.ComputeFinalDecision(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetDecision returns the stored decision record.
func (h *HTTPHandler) GetDecision(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	c, ok := h.authorize(w, r, authz.CapabilityReadAllEvaluations, authz.CapabilityDepartmentReport, authz.CapabilitySubmitApproverVote)
	if !ok {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}
	if err := h.scope(r.Context(), c, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.decisions.GetDecision(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Report returns the full evaluation report. Without an id, department
// reporters get the evaluations of their departments.
func (h *HTTPHandler) Report(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	c, ok := h.authorize(w, r, authz.CapabilityReadAllEvaluations, authz.CapabilityDepartmentReport)
	if !ok {
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		list, departments, err := h.reports.ListForDepartments(r.Context(), c.UserID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"departments": departments,
			"evaluations": list,
			"total":       len(list),
		})
		return
	}

	if err := h.scope(r.Context(), c, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	rep, err := h.reports.Report(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// AuditTrail returns the audit log of an evaluation.
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := h.authorize(w, r, authz.CapabilityReadAllEvaluations); !ok {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}
	trail, err := h.evaluations.AuditTrail(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": trail, "total": len(trail)})
}
