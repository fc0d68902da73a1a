package models

import (
	"log/slog"
	"strings"

	"github.com/myrjola/valuebench/internal/errors"
)

var ErrInvalidTag = errors.NewSentinel("invalid value tag")

// Principle is one of the four fixed ethical dimensions a choice is tagged against.
type Principle string

const (
	Autonomy       Principle = "autonomy"
	Beneficence    Principle = "beneficence"
	Nonmaleficence Principle = "nonmaleficence"
	Justice        Principle = "justice"
)

// Principles lists the principles in their canonical order.
var Principles = [4]Principle{Autonomy, Beneficence, Nonmaleficence, Justice}

// Tag is the stance of one choice towards one principle, relative to the alternative choice.
type Tag string

const (
	Promotes Tag = "promotes"
	Violates Tag = "violates"
	Neutral  Tag = "neutral"
)

// ParseTag accepts promotes, violates and neutral in any letter case. Empty or other values are rejected.
func ParseTag(s string) (Tag, error) {
	switch t := Tag(strings.ToLower(strings.TrimSpace(s))); t {
	case Promotes, Violates, Neutral:
		return t, nil
	default:
		return "", errors.Wrap(ErrInvalidTag, "parse tag", slog.String("tag", s))
	}
}

func (t Tag) Valid() bool {
	return t == Promotes || t == Violates || t == Neutral
}

// ValueTagSet holds exactly one tag for each of the four principles.
type ValueTagSet struct {
	Autonomy       Tag `json:"autonomy"`
	Beneficence    Tag `json:"beneficence"`
	Nonmaleficence Tag `json:"nonmaleficence"`
	Justice        Tag `json:"justice"`
}

// NeutralTags returns a ValueTagSet where every principle is neutral.
func NeutralTags() ValueTagSet {
	return ValueTagSet{Autonomy: Neutral, Beneficence: Neutral, Nonmaleficence: Neutral, Justice: Neutral}
}

// Get returns the tag for principle p. Unknown principles yield the empty tag.
func (s ValueTagSet) Get(p Principle) Tag {
	switch p {
	case Autonomy:
		return s.Autonomy
	case Beneficence:
		return s.Beneficence
	case Nonmaleficence:
		return s.Nonmaleficence
	case Justice:
		return s.Justice
	default:
		return ""
	}
}

// With returns a copy of s with principle p set to t.
func (s ValueTagSet) With(p Principle, t Tag) ValueTagSet {
	switch p {
	case Autonomy:
		s.Autonomy = t
	case Beneficence:
		s.Beneficence = t
	case Nonmaleficence:
		s.Nonmaleficence = t
	case Justice:
		s.Justice = t
	}
	return s
}

// Check reports every principle carrying a tag outside promotes/violates/neutral.
func (s ValueTagSet) Check() error {
	var errs []error
	for _, p := range Principles {
		if !s.Get(p).Valid() {
			errs = append(errs, errors.Wrap(ErrInvalidTag, "check tag",
				slog.String("principle", string(p)), slog.String("tag", string(s.Get(p)))))
		}
	}
	return errors.Join(errs...)
}

// ChoiceTags holds the value tags of both choices of a dilemma.
type ChoiceTags struct {
	Choice1 ValueTagSet `json:"choice_1"`
	Choice2 ValueTagSet `json:"choice_2"`
}

func (c ChoiceTags) Check() error {
	if err := c.Choice1.Check(); err != nil {
		return errors.Wrap(err, "choice 1")
	}
	if err := c.Choice2.Check(); err != nil {
		return errors.Wrap(err, "choice 2")
	}
	return nil
}
