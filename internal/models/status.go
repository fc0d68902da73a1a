package models

import (
	"log/slog"

	"github.com/myrjola/valuebench/internal/errors"
)

var (
	ErrInvalidTransition = errors.NewSentinel("invalid status transition")
	ErrUnknownStatus     = errors.NewSentinel("unknown status")
)

// Status is the lifecycle position of a case.
type Status string

const (
	StatusDrafted     Status = "drafted"
	StatusTagged      Status = "tagged"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

// transitions is the allowed status graph. Approved and rejected have no outgoing edges.
var transitions = map[Status][]Status{
	StatusDrafted:     {StatusTagged},
	StatusTagged:      {StatusUnderReview},
	StatusUnderReview: {StatusApproved, StatusRejected, StatusTagged},
	StatusApproved:    nil,
	StatusRejected:    nil,
}

func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := transitions[status]; !ok {
		return "", errors.Wrap(ErrUnknownStatus, "parse status", slog.String("status", s))
	}
	return status, nil
}

// Terminal reports whether s is a sink of the status graph.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransitionTo reports whether the edge s -> next exists.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition annotated with both ends when s -> next is not allowed.
func (s Status) CheckTransition(next Status) error {
	if s.CanTransitionTo(next) {
		return nil
	}
	return errors.Wrap(ErrInvalidTransition, "check transition",
		slog.String("from", string(s)), slog.String("to", string(next)))
}

// Reviewable statuses are presented to reviewers in a review session.
var Reviewable = []Status{StatusTagged, StatusUnderReview}

// Exportable statuses are written to the review surface.
var Exportable = []Status{StatusTagged, StatusUnderReview, StatusApproved, StatusRejected}
