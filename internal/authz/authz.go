// Package authz maps account roles to the capabilities they hold. Handlers
// check capabilities; the engine and lifecycle code never see roles.
package authz

import (
	"fmt"
	"sort"

	apperrors "github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// Role is an account role.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleHRBP      Role = "HRBP"
	RoleApprover  Role = "APPROVER"
	RoleEvaluator Role = "EVALUATOR"
)

// Roles lists every account role.
var Roles = []Role{RoleAdmin, RoleHRBP, RoleApprover, RoleEvaluator}

// ParseRole accepts only the exact role names.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", apperrors.InvalidInput("role", fmt.Sprintf("%q is not one of %v", s, Roles))
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHRBP, RoleApprover, RoleEvaluator:
		return true
	}
	return false
}

// Capability names one permitted operation family.
type Capability string

const (
	CapabilityCreateEvaluation     Capability = "evaluation:create"
	CapabilityAssignEvaluator      Capability = "evaluation:assign"
	CapabilityTransitionEvaluation Capability = "evaluation:transition"
	CapabilityReadAllEvaluations   Capability = "evaluation:read_all"
	CapabilityDepartmentReport     Capability = "report:department"
	CapabilitySubmitVote           Capability = "vote:submit"
	CapabilitySubmitApproverVote   Capability = "approver:submit"
	CapabilityManageAccounts       Capability = "account:manage"
)

// Set is an unordered set of capabilities.
type Set map[Capability]struct{}

// Has reports whether c is in the set.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Sorted returns the capabilities in lexical order.
func (s Set) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rule is one row of the policy table.
type Rule struct {
	Role       Role
	Capability Capability
}

var policy = []Rule{
	{RoleAdmin, CapabilityCreateEvaluation},
	{RoleAdmin, CapabilityAssignEvaluator},
	{RoleAdmin, CapabilityTransitionEvaluation},
	{RoleAdmin, CapabilityReadAllEvaluations},
	{RoleAdmin, CapabilitySubmitVote},
	{RoleAdmin, CapabilityManageAccounts},

	{RoleHRBP, CapabilityDepartmentReport},
	{RoleHRBP, CapabilitySubmitVote},

	{RoleApprover, CapabilitySubmitApproverVote},

	{RoleEvaluator, CapabilitySubmitVote},
}

// PolicyTable returns a copy of the role/capability rows.
func PolicyTable() []Rule {
	return append([]Rule(nil), policy...)
}

// Capabilities returns the capability set of role. Unknown roles hold none.
func Capabilities(role Role) Set {
	out := Set{}
	for _, r := range policy {
		if r.Role == role {
			out[r.Capability] = struct{}{}
		}
	}
	return out
}

// Can reports whether role holds capability.
func Can(role Role, c Capability) bool {
	for _, r := range policy {
		if r.Role == role && r.Capability == c {
			return true
		}
	}
	return false
}

// Require returns a Forbidden error unless role holds capability.
func Require(role Role, c Capability) error {
	if Can(role, c) {
		return nil
	}
	return apperrors.Forbidden(fmt.Sprintf("role %s lacks capability %s", role, c)).
		WithDetail("role", string(role)).
		WithDetail("capability", string(c))
}

// RequireAny returns a Forbidden error unless role holds at least one of caps.
func RequireAny(role Role, caps ...Capability) error {
	for _, c := range caps {
		if Can(role, c) {
			return nil
		}
	}
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return apperrors.Forbidden(fmt.Sprintf("role %s lacks any of %v", role, names)).
		WithDetail("role", string(role)).
		WithDetail("capabilities", names)
}
