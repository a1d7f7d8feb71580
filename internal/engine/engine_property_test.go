package engine

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/miladahmadkhan/promotion-panel/internal/rules"
	"github.com/miladahmadkhan/promotion-panel/internal/rules/rulestest"
)

// panel builds one assignment per role of rule and one ballot per assignee
// from codes (0 Demonstrated, 1 Partially, 2 Not), eight codes per voter.
func panel(rule rules.LevelRule, codes []int) ([]Assignment, []Ballot) {
	options := []Rating{Demonstrated, PartiallyDemonstrated, NotDemonstrated}
	var assignments []Assignment
	var ballots []Ballot
	for v, role := range rule.Roles() {
		id := fmt.Sprintf("evaluator-%d", v)
		assignments = append(assignments, Assignment{EvaluatorID: id, Role: role})
		var r Ratings
		for i := range r {
			r[i] = options[codes[(v*rules.DimensionCount+i)%len(codes)]%3]
		}
		ballots = append(ballots, Ballot{EvaluatorID: id, Ratings: r})
	}
	return assignments, ballots
}

func properties(t *testing.T) *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	return gopter.NewProperties(parameters)
}

var codesGen = gen.SliceOfN(6*rules.DimensionCount, gen.IntRange(0, 2))

func TestAggregateIsDeterministic(t *testing.T) {
	props := properties(t)
	for _, rule := range rulestest.Table(t).Rules() {
		props.Property(rule.Path+": same votes in any order give the same result", prop.ForAll(
			func(codes []int, seed int64) bool {
				assignments, ballots := panel(rule, codes)
				first := Aggregate(rule, dims, assignments, ballots)

				shuffled := append([]Ballot(nil), ballots...)
				rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
					shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
				})
				second := Aggregate(rule, dims, assignments, shuffled)
				return reflect.DeepEqual(first, second)
			},
			codesGen,
			gen.Int64(),
		))
	}
	props.TestingRun(t)
}

func TestCriticalVetoDominates(t *testing.T) {
	props := properties(t)
	for _, rule := range rulestest.Table(t).Rules() {
		props.Property(rule.Path+": a failed critical dimension always rejects", prop.ForAll(
			func(codes []int) bool {
				assignments, ballots := panel(rule, codes)
				res := Aggregate(rule, dims, assignments, ballots)

				vetoed := false
				for _, d := range res.Dimensions {
					if d.Critical && d.Result != Demonstrated {
						vetoed = true
					}
				}
				decided := res.Decision
				if rule.Gated() {
					if res.Decision != RecommendationOnly {
						return false
					}
					decided = res.Recommendation
				}
				if vetoed {
					return decided == Reject
				}
				return decided == Confirmed || decided == Reject
			},
			codesGen,
		))
	}
	props.TestingRun(t)
}

func TestIncompleteVotesArePending(t *testing.T) {
	props := properties(t)
	for _, rule := range rulestest.Table(t).Rules() {
		props.Property(rule.Path+": partial responses never decide", prop.ForAll(
			func(codes []int, drop int) bool {
				assignments, ballots := panel(rule, codes)
				keep := drop % len(ballots)
				res := Aggregate(rule, dims, assignments, ballots[:keep])
				return res.Decision == Pending &&
					res.MissingCount == len(assignments)-keep &&
					len(res.Dimensions) == 0
			},
			codesGen,
			gen.IntRange(0, 100),
		))
	}
	props.TestingRun(t)
}

func TestFinalDecisionMatchesDecide(t *testing.T) {
	props := properties(t)
	rule := rulestest.Rule(t, "Advanced Expert → Principal")
	props.Property("approver ratings are judged without weighting", prop.ForAll(
		func(codes []int) bool {
			_, ballots := panel(rule, codes)
			r := ballots[0].Ratings
			want, _ := Decide(rule, r)
			return FinalDecision(rule, dims, &r).Decision == want
		},
		codesGen,
	))
	props.TestingRun(t)
}
