// Package rulestest provides the production rule table to tests.
package rulestest

import (
	_ "embed"
	"testing"

	"github.com/miladahmadkhan/promotion-panel/internal/rules"
)

// YAML is a copy of configs/rules.yaml.
//
//go:embed rules.yaml
var YAML []byte

// Table parses YAML and fails the test on error.
func Table(t testing.TB) *rules.Table {
	t.Helper()
	table, err := rules.Parse(YAML)
	if err != nil {
		t.Fatalf("parse rule table: %v", err)
	}
	return table
}

// Rule returns the rule for path from the production table.
func Rule(t testing.TB, path string) rules.LevelRule {
	t.Helper()
	r, err := Table(t).Rule(path)
	if err != nil {
		t.Fatalf("rule %q: %v", path, err)
	}
	return r
}
