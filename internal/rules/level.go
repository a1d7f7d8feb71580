package rules

import (
	"fmt"
	"strings"

	apperrors "github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// Level is a recognized promotion target level.
type Level string

const (
	LevelSeniorSpecialist Level = "Senior Specialist"
	LevelLeadExpert       Level = "Lead Expert"
	LevelAdvancedExpert   Level = "Advanced Expert"
	LevelPrincipal        Level = "Principal"
	LevelDistinguished    Level = "Distinguished"
)

// Levels lists the recognized target levels from junior to senior.
var Levels = []Level{
	LevelSeniorSpecialist,
	LevelLeadExpert,
	LevelAdvancedExpert,
	LevelPrincipal,
	LevelDistinguished,
}

// ParseLevel returns the Level named by s.
func ParseLevel(s string) (Level, bool) {
	s = strings.TrimSpace(s)
	for _, l := range Levels {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

// Gated reports whether the level defers its binding decision to an approver.
func (l Level) Gated() bool {
	return l == LevelPrincipal || l == LevelDistinguished
}

func (l Level) String() string { return string(l) }

// Separator is the canonical stage separator of a level path.
const Separator = "→"

var separators = []string{"->", "➜", "⇒", Separator}

// LevelPath is a promotion transition such as "Lead Expert → Advanced Expert".
type LevelPath struct {
	Raw     string
	Stages  []string
	Current string
	Target  Level
}

// String returns the canonical form, stages joined by " → ".
func (p LevelPath) String() string {
	return strings.Join(p.Stages, " "+Separator+" ")
}

// ParseLevelPath splits s on any accepted separator. The final stage must be
// a recognized Level.
func ParseLevelPath(s string) (LevelPath, error) {
	normalized := s
	for _, sep := range separators {
		normalized = strings.ReplaceAll(normalized, sep, Separator)
	}
	if !strings.Contains(normalized, Separator) {
		return LevelPath{}, apperrors.InvalidInput("level_path",
			fmt.Sprintf("%q has no stage separator (one of → -> ➜ ⇒)", s))
	}

	parts := strings.Split(normalized, Separator)
	stages := make([]string, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return LevelPath{}, apperrors.InvalidInput("level_path",
				fmt.Sprintf("%q has an empty stage at position %d", s, i+1))
		}
		stages = append(stages, part)
	}

	target, ok := ParseLevel(stages[len(stages)-1])
	if !ok {
		return LevelPath{}, apperrors.InvalidInput("level_path",
			fmt.Sprintf("%q targets unrecognized level %q", s, stages[len(stages)-1])).
			WithDetail("recognized_levels", Levels)
	}

	return LevelPath{
		Raw:     s,
		Stages:  stages,
		Current: stages[len(stages)-2],
		Target:  target,
	}, nil
}
