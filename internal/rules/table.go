// Package rules loads and validates the promotion rule table: the ordered
// competency dimensions and, per level path, the evaluator role weights, the
// critical dimensions and the minimum demonstrated count.
package rules

import (
	"fmt"

	apperrors "github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// DimensionCount is the fixed number of competency dimensions.
const DimensionCount = 8

// RoleWeight is one evaluator role and its vote weight.
type RoleWeight struct {
	Role   string  `yaml:"role" json:"role"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// LevelRule is the rule set applied to evaluations on one level path.
type LevelRule struct {
	Path            string       `json:"level_path"`
	Target          Level        `json:"target_level"`
	Weights         []RoleWeight `json:"weights"`
	Critical        []int        `json:"critical"`
	MinDemonstrated int          `json:"min_demonstrated"`
}

// Weight returns the role's weight, or 0 for a role not in the table.
func (r LevelRule) Weight(role string) float64 {
	for _, w := range r.Weights {
		if w.Role == role {
			return w.Weight
		}
	}
	return 0
}

// HasRole reports whether role is a weight key of this rule.
func (r LevelRule) HasRole(role string) bool {
	for _, w := range r.Weights {
		if w.Role == role {
			return true
		}
	}
	return false
}

// Roles returns the role names in declaration order.
func (r LevelRule) Roles() []string {
	out := make([]string, len(r.Weights))
	for i, w := range r.Weights {
		out[i] = w.Role
	}
	return out
}

// IsCritical reports whether dimension index i is critical.
func (r LevelRule) IsCritical(i int) bool {
	for _, c := range r.Critical {
		if c == i {
			return true
		}
	}
	return false
}

// Gated reports whether the rule's target level is approver-gated.
func (r LevelRule) Gated() bool {
	return r.Target.Gated()
}

// Table is an immutable, validated rule table. Safe for concurrent reads.
type Table struct {
	dimensions [DimensionCount]string
	paths      []string
	rules      map[string]LevelRule
}

// Dimensions returns the dimension names in positional order.
func (t *Table) Dimensions() [DimensionCount]string {
	return t.dimensions
}

// LevelPaths returns the canonical level paths in declaration order.
func (t *Table) LevelPaths() []string {
	out := make([]string, len(t.paths))
	copy(out, t.paths)
	return out
}

// Rule returns the rule for path. Any accepted separator may be used.
func (t *Table) Rule(path string) (LevelRule, error) {
	lp, err := ParseLevelPath(path)
	if err != nil {
		return LevelRule{}, err
	}
	r, ok := t.rules[lp.String()]
	if !ok {
		return LevelRule{}, apperrors.NotFound("level path", lp.String()).
			WithDetail("level_paths", t.paths)
	}
	return r.clone(), nil
}

// Rules returns every rule in declaration order.
func (t *Table) Rules() []LevelRule {
	out := make([]LevelRule, 0, len(t.paths))
	for _, p := range t.paths {
		out = append(out, t.rules[p].clone())
	}
	return out
}

func (r LevelRule) clone() LevelRule {
	c := r
	c.Weights = append([]RoleWeight(nil), r.Weights...)
	c.Critical = append([]int(nil), r.Critical...)
	return c
}

func (r LevelRule) String() string {
	return fmt.Sprintf("%s (critical %v, min demonstrated %d)", r.Path, r.Critical, r.MinDemonstrated)
}
