// Package engine computes committee and approver decisions from ratings and
// a level rule. It performs no I/O and does not know who is calling it.
package engine

import (
	"fmt"
	"strings"

	apperrors "github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/rules"
)

// Rating is one evaluator's verdict on a dimension. The literal strings are
// stored and transmitted unchanged.
type Rating string

const (
	Demonstrated          Rating = "Demonstrated"
	PartiallyDemonstrated Rating = "Partially Demonstrated"
	NotDemonstrated       Rating = "Not Demonstrated"
)

// RatingOptions lists the accepted ratings in display order.
var RatingOptions = []Rating{Demonstrated, PartiallyDemonstrated, NotDemonstrated}

// Valid reports whether r is one of the three accepted literals.
func (r Rating) Valid() bool {
	switch r {
	case Demonstrated, PartiallyDemonstrated, NotDemonstrated:
		return true
	}
	return false
}

// ParseRating accepts only the exact literals.
func ParseRating(s string) (Rating, error) {
	r := Rating(s)
	if !r.Valid() {
		return "", apperrors.InvalidInput("rating",
			fmt.Sprintf("%q is not one of %s", s, optionList()))
	}
	return r, nil
}

// Ratings holds one rating per dimension, in dimension order.
type Ratings [rules.DimensionCount]Rating

// ParseRatings validates a submitted list of ratings.
func ParseRatings(values []string) (Ratings, error) {
	var out Ratings
	if len(values) != rules.DimensionCount {
		return out, apperrors.InvalidInput("ratings",
			fmt.Sprintf("expected exactly %d ratings, got %d", rules.DimensionCount, len(values))).
			WithDetail("expected", rules.DimensionCount).
			WithDetail("got", len(values))
	}
	for i, v := range values {
		r := Rating(v)
		if !r.Valid() {
			return out, apperrors.InvalidInput(fmt.Sprintf("ratings[%d]", i),
				fmt.Sprintf("%q is not one of %s", v, optionList())).
				WithDetail("index", i)
		}
		out[i] = r
	}
	return out, nil
}

// Validate checks every position holds an accepted rating.
func (rs Ratings) Validate() error {
	for i, r := range rs {
		if !r.Valid() {
			return apperrors.InvalidInput(fmt.Sprintf("ratings[%d]", i),
				fmt.Sprintf("%q is not one of %s", string(r), optionList())).
				WithDetail("index", i)
		}
	}
	return nil
}

// Strings returns the ratings as plain strings.
func (rs Ratings) Strings() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

func optionList() string {
	quoted := make([]string, len(RatingOptions))
	for i, o := range RatingOptions {
		quoted[i] = fmt.Sprintf("%q", string(o))
	}
	return strings.Join(quoted, ", ")
}

// Outcome is a committee or final decision.
type Outcome string

const (
	Pending            Outcome = "Pending"
	Confirmed          Outcome = "Confirmed"
	Reject             Outcome = "Reject"
	RecommendationOnly Outcome = "RecommendationOnly"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case Pending, Confirmed, Reject, RecommendationOnly:
		return true
	}
	return false
}

func (o Outcome) String() string { return string(o) }
