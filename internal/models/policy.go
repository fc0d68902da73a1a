package models

import (
	"log/slog"
	"strings"

	"github.com/myrjola/valuebench/internal/errors"
)

var ErrUnknownPolicy = errors.NewSentinel("unknown decision policy")

// DecisionPolicy decides what happens when more than one reviewer decides the same case.
type DecisionPolicy string

const (
	// LastWriterWins lets a later decision overwrite an earlier one by reopening the decided case first.
	LastWriterWins DecisionPolicy = "last-writer-wins"
	// FirstDecisionWins records later decisions but never changes an already decided case.
	FirstDecisionWins DecisionPolicy = "first-decision-wins"
	// TwoReviewers finalises a case only once two distinct reviewers reached the same verdict.
	TwoReviewers DecisionPolicy = "two-reviewers"
)

func ParseDecisionPolicy(s string) (DecisionPolicy, error) {
	switch p := DecisionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case LastWriterWins, FirstDecisionWins, TwoReviewers:
		return p, nil
	default:
		return "", errors.Wrap(ErrUnknownPolicy, "parse decision policy", slog.String("policy", s))
	}
}

// ProblemCategories are the tags a reviewer may attach to an evaluation to say what is wrong with a case.
var ProblemCategories = []string{"clinical", "ethical", "legal", "stylistic", "other"}

// ValidProblemCategory reports whether c is one of ProblemCategories.
func ValidProblemCategory(c string) bool {
	for _, known := range ProblemCategories {
		if c == known {
			return true
		}
	}
	return false
}
