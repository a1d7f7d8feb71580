package rules

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// source is the YAML layout of the rule file. It mirrors the historical
// spreadsheet: a header row of level paths, one row per dimension with 0/1
// critical flags, a free-form minimum demonstrated table, and role weights
// keyed by target level.
type source struct {
	LevelPaths      []string                `yaml:"level_paths"`
	Dimensions      []string                `yaml:"dimensions"`
	Critical        [][]any                 `yaml:"critical"`
	MinDemonstrated []minDemonstratedRow    `yaml:"min_demonstrated"`
	Weights         map[string][]RoleWeight `yaml:"weights"`
	PathWeights     map[string][]RoleWeight `yaml:"path_weights"`
}

type minDemonstratedRow struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

func configErr(format string, args ...any) *apperrors.Error {
	return apperrors.Configuration("rules: " + fmt.Sprintf(format, args...))
}

// Parse decodes and validates a YAML rule source. Any violation fails the
// whole load.
func Parse(data []byte) (*Table, error) {
	var src source
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "rules: decode rule source")
	}
	return build(src)
}

func build(src source) (*Table, error) {
	paths, err := parsePaths(src.LevelPaths)
	if err != nil {
		return nil, err
	}

	dims, err := parseDimensions(src.Dimensions)
	if err != nil {
		return nil, err
	}

	critical, err := parseCritical(src.Critical, paths, dims)
	if err != nil {
		return nil, err
	}

	minDemo, err := parseMinDemonstrated(src.MinDemonstrated, paths)
	if err != nil {
		return nil, err
	}

	weights, err := resolveWeights(src.Weights, src.PathWeights, paths)
	if err != nil {
		return nil, err
	}

	t := &Table{dimensions: dims, rules: make(map[string]LevelRule, len(paths))}
	for _, p := range paths {
		key := p.String()
		t.paths = append(t.paths, key)
		t.rules[key] = LevelRule{
			Path:            key,
			Target:          p.Target,
			Weights:         weights[key],
			Critical:        critical[key],
			MinDemonstrated: minDemo[key],
		}
	}
	return t, nil
}

func parsePaths(raw []string) ([]LevelPath, error) {
	if len(raw) == 0 {
		return nil, configErr("level_paths is empty")
	}
	seen := make(map[string]int, len(raw))
	out := make([]LevelPath, 0, len(raw))
	for i, s := range raw {
		lp, err := ParseLevelPath(s)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration,
				fmt.Sprintf("rules: level_paths[%d]", i)).WithDetail("column", i)
		}
		if prev, dup := seen[lp.String()]; dup {
			return nil, configErr("level_paths[%d] %q duplicates level_paths[%d]", i, s, prev)
		}
		seen[lp.String()] = i
		out = append(out, lp)
	}
	return out, nil
}

func parseDimensions(raw []string) ([DimensionCount]string, error) {
	var dims [DimensionCount]string
	if len(raw) != DimensionCount {
		return dims, configErr("expected %d dimensions, found %d", DimensionCount, len(raw))
	}
	for i, d := range raw {
		d = strings.TrimSpace(d)
		if d == "" {
			return dims, configErr("dimensions[%d] is empty", i).WithDetail("row", i)
		}
		dims[i] = d
	}
	return dims, nil
}

func parseCritical(rows [][]any, paths []LevelPath, dims [DimensionCount]string) (map[string][]int, error) {
	if len(rows) != DimensionCount {
		return nil, configErr("critical: expected %d rows (one per dimension), found %d", DimensionCount, len(rows))
	}
	out := make(map[string][]int, len(paths))
	for _, p := range paths {
		out[p.String()] = []int{}
	}
	for i, row := range rows {
		if len(row) != len(paths) {
			return nil, configErr("critical[%d] (%s): expected %d cells (one per level path), found %d",
				i, dims[i], len(paths), len(row))
		}
		for j, cell := range row {
			v, ok := criticalCell(cell)
			if !ok {
				return nil, configErr("critical[%d][%d] (dimension %q, level path %q) must be 0 or 1, got %v",
					i, j, dims[i], paths[j].String(), cell).
					WithDetail("row", i).
					WithDetail("column", j)
			}
			if v == 1 {
				out[paths[j].String()] = append(out[paths[j].String()], i)
			}
		}
	}
	return out, nil
}

func criticalCell(v any) (int, bool) {
	var f float64
	switch x := v.(type) {
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(NormalizeDigits(x)), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	switch f {
	case 0:
		return 0, true
	case 1:
		return 1, true
	}
	return 0, false
}

func parseMinDemonstrated(rows []minDemonstratedRow, paths []LevelPath) (map[string]int, error) {
	declared := make(map[string]bool, len(paths))
	for _, p := range paths {
		declared[p.String()] = true
	}

	out := make(map[string]int, len(paths))
	for i, row := range rows {
		lp, err := ParseLevelPath(row.Path)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration,
				fmt.Sprintf("rules: min_demonstrated[%d]", i)).WithDetail("row", i)
		}
		key := lp.String()
		if !declared[key] {
			return nil, configErr("min_demonstrated[%d]: level path %q is not declared in level_paths", i, key)
		}
		if _, dup := out[key]; dup {
			return nil, configErr("min_demonstrated[%d]: duplicate entry for %q", i, key)
		}
		if row.Value == nil {
			return nil, configErr("min_demonstrated[%d] (%s): value is empty", i, key)
		}
		text := fmt.Sprint(row.Value)
		n, ok := FirstInt(text)
		if !ok {
			return nil, configErr("min_demonstrated[%d] (%s): no integer in %q", i, key, text).WithDetail("row", i)
		}
		if n > DimensionCount {
			return nil, configErr("min_demonstrated[%d] (%s): %d exceeds the %d dimensions", i, key, n, DimensionCount)
		}
		out[key] = n
	}

	var missing []string
	for _, p := range paths {
		if _, ok := out[p.String()]; !ok {
			missing = append(missing, p.String())
		}
	}
	if len(missing) > 0 {
		return nil, configErr("min_demonstrated missing for level paths %v", missing).WithDetail("missing", missing)
	}
	return out, nil
}

// resolveWeights derives each path's weights from its target level. A
// path-keyed table, when present, must agree with the level-keyed one.
func resolveWeights(byLevel, byPath map[string][]RoleWeight, paths []LevelPath) (map[string][]RoleWeight, error) {
	levels := make(map[Level][]RoleWeight, len(byLevel))
	for _, name := range sortedKeys(byLevel) {
		lvl, ok := ParseLevel(name)
		if !ok {
			return nil, configErr("weights: %q is not a recognized target level", name)
		}
		if err := validateWeights("weights["+name+"]", byLevel[name]); err != nil {
			return nil, err
		}
		levels[lvl] = byLevel[name]
	}

	out := make(map[string][]RoleWeight, len(paths))
	for _, p := range paths {
		w, ok := levels[p.Target]
		if !ok || len(w) == 0 {
			return nil, configErr("weights: no weights for target level %q (level path %q)", p.Target, p.String())
		}
		out[p.String()] = append([]RoleWeight(nil), w...)
	}

	for _, raw := range sortedKeys(byPath) {
		lp, err := ParseLevelPath(raw)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "rules: path_weights")
		}
		key := lp.String()
		derived, ok := out[key]
		if !ok {
			return nil, configErr("path_weights: level path %q is not declared in level_paths", key)
		}
		if err := validateWeights("path_weights["+key+"]", byPath[raw]); err != nil {
			return nil, err
		}
		if err := sameWeights(key, derived, byPath[raw]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func validateWeights(where string, ws []RoleWeight) error {
	seen := make(map[string]bool, len(ws))
	for i, w := range ws {
		role := strings.TrimSpace(w.Role)
		if role == "" {
			return configErr("%s[%d]: role is empty", where, i)
		}
		if role != w.Role {
			return configErr("%s[%d]: role %q has surrounding whitespace", where, i, w.Role)
		}
		if seen[role] {
			return configErr("%s[%d]: duplicate role %q", where, i, role)
		}
		seen[role] = true
		if math.IsNaN(w.Weight) || w.Weight < 0 || w.Weight > 1 {
			return configErr("%s[%d]: weight %v for %q is outside [0,1]", where, i, w.Weight, role)
		}
	}
	return nil
}

func sameWeights(path string, byLevel, byPath []RoleWeight) error {
	want := make(map[string]float64, len(byLevel))
	for _, w := range byLevel {
		want[w.Role] = w.Weight
	}
	got := make(map[string]bool, len(byPath))
	for _, w := range byPath {
		got[w.Role] = true
		lw, ok := want[w.Role]
		if !ok {
			return configErr("path_weights[%s]: role %q is not in the target level weights", path, w.Role).
				WithDetail("level_path", path).WithDetail("role", w.Role)
		}
		if lw != w.Weight {
			return configErr("path_weights[%s]: role %q weight %v diverges from target level weight %v",
				path, w.Role, w.Weight, lw).
				WithDetail("level_path", path).WithDetail("role", w.Role)
		}
	}
	for _, w := range byLevel {
		if !got[w.Role] {
			return configErr("path_weights[%s]: role %q is missing", path, w.Role).
				WithDetail("level_path", path).WithDetail("role", w.Role)
		}
	}
	return nil
}

func sortedKeys(m map[string][]RoleWeight) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
