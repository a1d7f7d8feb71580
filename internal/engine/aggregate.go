package engine

import (
	"sort"

	"github.com/miladahmadkhan/promotion-panel/internal/rules"
)

// Fixed aggregation thresholds, inclusive.
const (
	ThresholdDemonstrated = 0.70
	ThresholdPartial      = 0.40
)

// tolerance absorbs float summation error, so 0.1+0.2+0.4 still reaches 0.70.
const tolerance = 1e-9

// Assignment binds an evaluator to the weight-table role they vote under.
type Assignment struct {
	EvaluatorID string
	Role        string
}

// Ballot is one evaluator's submitted ratings.
type Ballot struct {
	EvaluatorID string
	Ratings     Ratings
}

// DimensionResult is the outcome on one dimension.
type DimensionResult struct {
	Index              int     `json:"index"`
	Dimension          string  `json:"dimension"`
	DemonstratedWeight float64 `json:"demonstrated_weight"`
	Result             Rating  `json:"result"`
	Critical           bool    `json:"critical"`
}

// AggregationResult is the committee outcome for one evaluation.
type AggregationResult struct {
	LevelPath   string      `json:"level_path"`
	TargetLevel rules.Level `json:"target_level"`
	Decision    Outcome     `json:"committee_decision"`
	// Recommendation is what the decision rule yields for a gated level,
	// where Decision is always RecommendationOnly.
	Recommendation    Outcome           `json:"recommendation,omitempty"`
	Dimensions        []DimensionResult `json:"dimensions"`
	DemonstratedCount int               `json:"demonstrated_count"`
	FailedCritical    []int             `json:"failed_critical,omitempty"`
	AssignedCount     int               `json:"assigned_count"`
	RespondedCount    int               `json:"responded_count"`
	MissingCount      int               `json:"missing_count"`
	Missing           []string          `json:"missing,omitempty"`
	Unassigned        []string          `json:"unassigned,omitempty"`
}

// Classify maps a demonstrated weight to a per-dimension result.
func Classify(w float64) Rating {
	switch {
	case w >= ThresholdDemonstrated-tolerance:
		return Demonstrated
	case w >= ThresholdPartial-tolerance:
		return PartiallyDemonstrated
	default:
		return NotDemonstrated
	}
}

// Aggregate computes the committee decision. When evaluators are assigned
// and the set that voted differs from them, the result is Pending with
// counts only. Each ballot adds its assignment role's weight to every
// dimension it rates exactly Demonstrated.
func Aggregate(rule rules.LevelRule, dimensions [rules.DimensionCount]string, assignments []Assignment, ballots []Ballot) AggregationResult {
	roleOf := make(map[string]string, len(assignments))
	for _, a := range assignments {
		roleOf[a.EvaluatorID] = a.Role
	}
	byVoter := make(map[string]Ratings, len(ballots))
	for _, b := range ballots {
		byVoter[b.EvaluatorID] = b.Ratings
	}

	res := AggregationResult{
		LevelPath:      rule.Path,
		TargetLevel:    rule.Target,
		AssignedCount:  len(roleOf),
		RespondedCount: len(byVoter),
	}

	if len(roleOf) > 0 {
		for id := range roleOf {
			if _, ok := byVoter[id]; !ok {
				res.Missing = append(res.Missing, id)
			}
		}
		for id := range byVoter {
			if _, ok := roleOf[id]; !ok {
				res.Unassigned = append(res.Unassigned, id)
			}
		}
		sort.Strings(res.Missing)
		sort.Strings(res.Unassigned)
		res.MissingCount = len(res.Missing)
		if len(res.Missing) > 0 || len(res.Unassigned) > 0 {
			res.Decision = Pending
			return res
		}
	}

	voters := make([]string, 0, len(byVoter))
	for id := range byVoter {
		voters = append(voters, id)
	}
	sort.Strings(voters)

	var weights [rules.DimensionCount]float64
	for _, id := range voters {
		w := rule.Weight(roleOf[id])
		for i, r := range byVoter[id] {
			if r == Demonstrated {
				weights[i] += w
			}
		}
	}

	var results Ratings
	res.Dimensions = make([]DimensionResult, rules.DimensionCount)
	for i, w := range weights {
		results[i] = Classify(w)
		res.Dimensions[i] = DimensionResult{
			Index:              i,
			Dimension:          dimensions[i],
			DemonstratedWeight: w,
			Result:             results[i],
			Critical:           rule.IsCritical(i),
		}
	}

	decision, count := Decide(rule, results)
	res.DemonstratedCount = count
	res.FailedCritical = FailedCritical(rule, results)
	if rule.Gated() {
		res.Decision = RecommendationOnly
		res.Recommendation = decision
	} else {
		res.Decision = decision
	}
	return res
}
