package rules

import (
	"fmt"
	"os"
	"sync"

	apperrors "github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// DefaultCandidates are tried after the configured path.
var DefaultCandidates = []string{"rules.yaml", "configs/rules.yaml"}

// Discover returns the first candidate that names an existing regular file.
// Empty candidates are skipped.
func Discover(candidates ...string) (string, error) {
	var tried []string
	for _, p := range candidates {
		if p == "" {
			continue
		}
		tried = append(tried, p)
		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", configErr("no rule source found (tried %v)", tried).WithDetail("candidates", tried)
}

// Load reads and parses the rule file at path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, fmt.Sprintf("rules: read %s", path))
	}
	t, err := Parse(data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, fmt.Sprintf("rules: %s", path))
	}
	return t, nil
}

// Loader loads the rule table once and hands out the same instance after.
type Loader struct {
	// Path is tried before DefaultCandidates.
	Path string

	mu     sync.Mutex
	table  *Table
	source string
}

// NewLoader returns a loader for path.
func NewLoader(path string) *Loader {
	return &Loader{Path: path}
}

// Table returns the memoized table, loading it on first use. A failed load
// is not memoized.
func (l *Loader) Table() (*Table, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.table != nil {
		return l.table, nil
	}
	return l.loadLocked()
}

// Reload discards the memoized table and loads the source again.
func (l *Loader) Reload() (*Table, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table = nil
	return l.loadLocked()
}

// Source returns the file the current table was loaded from.
func (l *Loader) Source() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

func (l *Loader) loadLocked() (*Table, error) {
	path, err := Discover(append([]string{l.Path}, DefaultCandidates...)...)
	if err != nil {
		return nil, err
	}
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	l.table = t
	l.source = path
	return t, nil
}
