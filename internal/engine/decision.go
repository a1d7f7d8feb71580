package engine

import (
	"github.com/miladahmadkhan/promotion-panel/internal/rules"
)

// Decide applies the level rule to per-dimension results: a critical
// dimension that is not Demonstrated rejects outright, otherwise the
// Demonstrated count must reach the rule's minimum.
func Decide(rule rules.LevelRule, results Ratings) (Outcome, int) {
	count := 0
	for _, r := range results {
		if r == Demonstrated {
			count++
		}
	}
	for _, idx := range rule.Critical {
		if idx < 0 || idx >= len(results) || results[idx] != Demonstrated {
			return Reject, count
		}
	}
	if count >= rule.MinDemonstrated {
		return Confirmed, count
	}
	return Reject, count
}

// FailedCritical returns the critical dimension indices whose result is not
// Demonstrated.
func FailedCritical(rule rules.LevelRule, results Ratings) []int {
	var out []int
	for _, idx := range rule.Critical {
		if idx < 0 || idx >= len(results) || results[idx] != Demonstrated {
			out = append(out, idx)
		}
	}
	return out
}

// ApprovalResult is the approver's binding decision on a gated evaluation.
type ApprovalResult struct {
	LevelPath         string            `json:"level_path"`
	Decision          Outcome           `json:"final_decision"`
	Dimensions        []DimensionResult `json:"dimensions"`
	DemonstratedCount int               `json:"demonstrated_count"`
	FailedCritical    []int             `json:"failed_critical,omitempty"`
}

// FinalDecision applies the decision rule directly to the approver's
// ratings. A nil vote yields Pending with no detail.
func FinalDecision(rule rules.LevelRule, dimensions [rules.DimensionCount]string, approver *Ratings) ApprovalResult {
	res := ApprovalResult{LevelPath: rule.Path, Decision: Pending}
	if approver == nil {
		return res
	}

	res.Decision, res.DemonstratedCount = Decide(rule, *approver)
	res.FailedCritical = FailedCritical(rule, *approver)
	res.Dimensions = make([]DimensionResult, len(approver))
	for i, r := range approver {
		res.Dimensions[i] = DimensionResult{
			Index:     i,
			Dimension: dimensions[i],
			Result:    r,
			Critical:  rule.IsCritical(i),
		}
	}
	return res
}
