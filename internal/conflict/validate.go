// Package conflict decides whether a pair of value-tagged choices forms a genuine two-value dilemma.
//
// Validate is pure: it never mutates its input and identical input always yields identical output. Callers decide
// what to do with a failed result; the package never corrects tags.
package conflict

import (
	"fmt"
	"strings"

	"github.com/myrjola/valuebench/internal/models"
)

// Rule identifies one of the dilemma-shape rules.
type Rule string

const (
	// RuleDirection fails when a single principle is promoted by both choices or violated by both.
	RuleDirection Rule = "per_value_direction"
	// RuleEngagement fails when fewer than two principles are engaged by either choice.
	RuleEngagement Rule = "minimum_engagement"
	// RuleOpposition fails when no pair of principles pulls the two choices in opposite directions.
	RuleOpposition Rule = "cross_value_opposition"
	// RuleBalance fails when one choice is obviously dominant or has no offsetting benefit.
	RuleBalance Rule = "balance"
)

const minEngaged = 2

// Violation is one failed rule.
type Violation struct {
	Rule Rule
	// Principles lists the principles that triggered RuleDirection. Empty for the other rules.
	Principles []models.Principle
	Message    string
}

// Result is the verdict for one pair of choices.
type Result struct {
	Valid      bool
	Violations []Violation
}

// Failed reports whether rule is among the violations.
func (r Result) Failed(rule Rule) bool {
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// Rules returns the identifiers of the failed rules in evaluation order.
func (r Result) Rules() []Rule {
	rules := make([]Rule, 0, len(r.Violations))
	for _, v := range r.Violations {
		rules = append(rules, v.Rule)
	}
	return rules
}

// Messages returns one human readable line per violation.
func (r Result) Messages() []string {
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.Message)
	}
	return msgs
}

// Summary renders the result on a single line, e.g. for the review surface.
func (r Result) Summary() string {
	if r.Valid {
		return "VALID"
	}
	return "INVALID: " + strings.Join(r.Messages(), "; ")
}

// Err returns nil for a valid result and a *ValidationError otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Result: r}
}

// ValidationError carries a failed Result through error returns.
type ValidationError struct {
	Result Result
}

func (e *ValidationError) Error() string {
	return "value conflict validation failed: " + strings.Join(e.Result.Messages(), "; ")
}

// Shape classifies a choice by the directions of its tags.
type Shape string

const (
	ShapeNone         Shape = "none"
	ShapePureUpside   Shape = "pure-upside"
	ShapePureDownside Shape = "pure-downside"
	ShapeMixed        Shape = "mixed"
)

// Classify returns the shape of one choice.
func Classify(tags models.ValueTagSet) Shape {
	var promotes, violates int
	for _, p := range models.Principles {
		switch tags.Get(p) {
		case models.Promotes:
			promotes++
		case models.Violates:
			violates++
		case models.Neutral:
		}
	}
	switch {
	case promotes > 0 && violates > 0:
		return ShapeMixed
	case promotes > 0:
		return ShapePureUpside
	case violates > 0:
		return ShapePureDownside
	default:
		return ShapeNone
	}
}

// Validate applies every rule independently. The pair is valid iff no rule fails.
//
// Tags other than promotes and violates count as neutral; malformed tags are expected to be rejected when the tags
// are parsed.
func Validate(choice1, choice2 models.ValueTagSet) Result {
	var violations []Violation
	for _, check := range []func(c1, c2 models.ValueTagSet) *Violation{
		checkDirection,
		checkEngagement,
		checkOpposition,
		checkBalance,
	} {
		if v := check(choice1, choice2); v != nil {
			violations = append(violations, *v)
		}
	}
	return Result{Valid: len(violations) == 0, Violations: violations}
}

// ValidateTags is Validate for a [models.ChoiceTags].
func ValidateTags(tags models.ChoiceTags) Result {
	return Validate(tags.Choice1, tags.Choice2)
}

func checkDirection(c1, c2 models.ValueTagSet) *Violation {
	var (
		principles []models.Principle
		details    []string
	)
	for _, p := range models.Principles {
		t1, t2 := c1.Get(p), c2.Get(p)
		if t1 == t2 && (t1 == models.Promotes || t1 == models.Violates) {
			principles = append(principles, p)
			details = append(details, fmt.Sprintf("%s tagged %s on both choices", p, t1))
		}
	}
	if len(principles) == 0 {
		return nil
	}
	return &Violation{
		Rule:       RuleDirection,
		Principles: principles,
		Message:    strings.Join(details, ", "),
	}
}

func checkEngagement(c1, c2 models.ValueTagSet) *Violation {
	engaged := 0
	for _, p := range models.Principles {
		if engages(c1.Get(p)) || engages(c2.Get(p)) {
			engaged++
		}
	}
	if engaged >= minEngaged {
		return nil
	}
	return &Violation{
		Rule:       RuleEngagement,
		Principles: nil,
		Message:    fmt.Sprintf("only %d principle(s) engaged, need at least %d", engaged, minEngaged),
	}
}

func checkOpposition(c1, c2 models.ValueTagSet) *Violation {
	for _, p := range models.Principles {
		t1, t2 := c1.Get(p), c2.Get(p)
		if (t1 == models.Promotes && t2 == models.Violates) || (t1 == models.Violates && t2 == models.Promotes) {
			return nil
		}
		for _, q := range models.Principles {
			if p == q {
				continue
			}
			if t1 == models.Promotes && c2.Get(q) == models.Promotes {
				return nil
			}
			if t1 == models.Violates && c2.Get(q) == models.Violates {
				return nil
			}
		}
	}
	return &Violation{
		Rule:       RuleOpposition,
		Principles: nil,
		Message:    "no principles are in opposition between the two choices",
	}
}

func checkBalance(c1, c2 models.ValueTagSet) *Violation {
	s1, s2 := Classify(c1), Classify(c2)
	var msg string
	switch {
	case s1 == ShapePureUpside && s2 == ShapePureDownside, s1 == ShapePureDownside && s2 == ShapePureUpside:
		msg = "one choice only promotes values while the other only violates them"
	case s1 == ShapeMixed && s2 == ShapePureDownside, s1 == ShapePureDownside && s2 == ShapeMixed:
		msg = "one choice has both benefits and costs while the other has only costs"
	default:
		return nil
	}
	return &Violation{
		Rule:       RuleBalance,
		Principles: nil,
		Message:    fmt.Sprintf("%s (%s vs %s)", msg, s1, s2),
	}
}

func engages(t models.Tag) bool {
	return t == models.Promotes || t == models.Violates
}
