package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/miladahmadkhan/promotion-panel/internal/authz"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/logger"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/middleware"
	"github.com/miladahmadkhan/promotion-panel/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	evaluations *service.EvaluationService
	decisions   *service.DecisionService
	lifecycle   *service.LifecycleService
	reports     *service.ReportService
	rules       service.RuleSource
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	evaluations *service.EvaluationService,
	decisions *service.DecisionService,
	lifecycle *service.LifecycleService,
	reports *service.ReportService,
	rules service.RuleSource,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		evaluations: evaluations,
		decisions:   decisions,
		lifecycle:   lifecycle,
		reports:     reports,
		rules:       rules,
		log:         log,
	}
}

// Register mounts every API route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/rules", h.GetRules)

	mux.HandleFunc("/api/v1/evaluations", h.Evaluations)
	mux.HandleFunc("/api/v1/evaluations/get", h.GetEvaluation)
	mux.HandleFunc("/api/v1/evaluations/assign", h.AssignEvaluator)
	mux.HandleFunc("/api/v1/evaluations/assignments", h.ListAssignments)
	mux.HandleFunc("/api/v1/evaluations/roles", h.AllowedRoles)
	mux.HandleFunc("/api/v1/evaluations/vote", h.Vote)
	mux.HandleFunc("/api/v1/evaluations/committee", h.CommitteeDecision)
	mux.HandleFunc("/api/v1/evaluations/committee/save", h.SaveCommitteeDecision)
	mux.HandleFunc("/api/v1/evaluations/ready", h.MoveToApprover)
	mux.HandleFunc("/api/v1/evaluations/close", h.CloseEvaluation)
	mux.HandleFunc("/api/v1/evaluations/approve", h.SubmitApproverVote)
	mux.HandleFunc("/api/v1/evaluations/final", h.FinalDecision)
	mux.HandleFunc("/api/v1/evaluations/decision", h.GetDecision)
	mux.HandleFunc("/api/v1/evaluations/report", h.Report)
	mux.HandleFunc("/api/v1/evaluations/audit", h.AuditTrail)

	mux.HandleFunc("/api/v1/me/evaluations", h.MyEvaluations)
	mux.HandleFunc("/api/v1/me/capabilities", h.MyCapabilities)
	mux.HandleFunc("/api/v1/approvals", h.AwaitingApproval)

	mux.HandleFunc("/api/v1/accounts/evaluators", h.RegisterEvaluator)
	mux.HandleFunc("/api/v1/accounts/departments", h.SetDepartments)
}

// GetRules returns the loaded rule table.
func (h *HTTPHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := h.caller(w, r); !ok {
		return
	}
	table, err := h.rules.Table()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dimensions":  table.Dimensions(),
		"level_paths": table.LevelPaths(),
		"rules":       table.Rules(),
	})
}

// MyEvaluations lists the evaluations the caller is assigned to.
func (h *HTTPHandler) MyEvaluations(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	list, err := h.evaluations.ListAssignedEvaluations(r.Context(), c.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": list, "total": len(list)})
}

// MyCapabilities returns what the caller's role may do.
func (h *HTTPHandler) MyCapabilities(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      c.UserID,
		"role":         c.Role,
		"capabilities": authz.Capabilities(authz.Role(c.Role)).Sorted(),
	})
}

// AwaitingApproval lists the evaluations handed to the approver.
func (h *HTTPHandler) AwaitingApproval(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := h.authorize(w, r, authz.CapabilitySubmitApproverVote); !ok {
		return
	}
	list, err := h.lifecycle.ListAwaitingApproval(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": list, "total": len(list)})
}

// RegisterEvaluator creates or reuses an evaluator account.
func (h *HTTPHandler) RegisterEvaluator(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := h.authorize(w, r, authz.CapabilityManageAccounts); !ok {
		return
	}
	var req struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	u, created, err := h.evaluations.RegisterEvaluator(r.Context(), req.FullName, req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"user": u, "created": created})
}

// SetDepartments replaces the departments of an HRBP account.
func (h *HTTPHandler) SetDepartments(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := h.authorize(w, r, authz.CapabilityManageAccounts); !ok {
		return
	}
	var req struct {
		UserID      string   `json:"user_id"`
		Departments []string `json:"departments"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	departments, err := h.evaluations.SetDepartments(r.Context(), req.UserID, req.Departments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "departments": departments})
}

// ── helpers ─────────────────────────────────────────────────────────────────

type errorBody struct {
	Code    errors.Code    `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"error": {...}}. Errors outside the domain
// taxonomy are logged and reported as INTERNAL without their text.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	var appErr *errors.Error
	body := errorBody{Code: errors.ErrCodeInternal, Message: "internal error"}
	if errors.As(err, &appErr) && appErr.Code != errors.ErrCodeInternal {
		body = errorBody{Code: appErr.Code, Message: appErr.Message, Field: appErr.Field, Details: appErr.Details}
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": errorBody{
		Code:    "METHOD_NOT_ALLOWED",
		Message: fmt.Sprintf("method %s is not allowed; use %s", r.Method, strings.Join(methods, " or ")),
	}})
	return false
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

func (h *HTTPHandler) caller(w http.ResponseWriter, r *http.Request) (middleware.Caller, bool) {
	c, ok := middleware.UserFromContext(r.Context())
	if !ok || c.UserID == "" {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "request is not authenticated"))
		return middleware.Caller{}, false
	}
	return c, true
}

// authorize requires one of caps from the caller's role.
func (h *HTTPHandler) authorize(w http.ResponseWriter, r *http.Request, caps ...authz.Capability) (middleware.Caller, bool) {
	c, ok := h.caller(w, r)
	if !ok {
		return c, false
	}
	if err := authz.RequireAny(authz.Role(c.Role), caps...); err != nil {
		h.writeError(w, r, err)
		return c, false
	}
	return c, true
}

func (h *HTTPHandler) requireID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		h.writeError(w, r, errors.InvalidInput("id", "evaluation id is required"))
		return "", false
	}
	return id, true
}

// scope checks that a caller who holds a capability only through department
// reporting may see the evaluation.
func (h *HTTPHandler) scope(ctx context.Context, c middleware.Caller, evaluationID string) error {
	role := authz.Role(c.Role)
	if authz.Can(role, authz.CapabilityReadAllEvaluations) || authz.Can(role, authz.CapabilitySubmitApproverVote) {
		return nil
	}
	return h.reports.CheckDepartment(ctx, c.UserID, evaluationID)
}
