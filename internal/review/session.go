package review

import (
	"context"
	"log/slog"
	"slices"

	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/logging"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/repositories"
)

// Session is one reviewer's pass over the review queue. It is not safe for concurrent use.
type Session struct {
	manager *Manager
	log     *models.SessionLog
	// queue holds the ids eligible when the session was opened, in creation order.
	queue  []string
	cursor int
}

// Result describes what a decision did.
type Result struct {
	Evaluation models.Evaluation
	// Status is the case status after the decision.
	Status models.Status
}

func (s *Session) ReviewerID() string {
	return s.log.ReviewerID
}

// Evaluations returns a copy of the reviewer's decisions so far, oldest first.
func (s *Session) Evaluations() []models.Evaluation {
	return slices.Clone(s.log.Evaluations)
}

func (s *Session) withAttrs(ctx context.Context) context.Context {
	return logging.WithAttrs(ctx, slog.String("reviewer_id", s.log.ReviewerID))
}

// Current returns the case at the cursor, or nil once the queue is exhausted. Cases that were evaluated, removed or
// decided elsewhere since the session opened are skipped.
func (s *Session) Current(ctx context.Context) (*models.Case, error) {
	ctx = s.withAttrs(ctx)
	for ; s.cursor < len(s.queue); s.cursor++ {
		id := s.queue[s.cursor]
		if s.log.Evaluated(id) {
			continue
		}
		c, err := s.manager.cases.Get(ctx, id)
		if errors.Is(err, repositories.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "load queued case")
		}
		if !slices.Contains(models.Reviewable, c.Status) {
			s.manager.logger.LogAttrs(ctx, slog.LevelDebug, "skipping case decided elsewhere",
				slog.String("case_id", id), slog.String("status", string(c.Status)))
			continue
		}
		return c, nil
	}
	return nil, nil
}

// Remaining counts the queued cases the reviewer has not evaluated yet, including the current one.
func (s *Session) Remaining() int {
	n := 0
	for _, id := range s.queue[s.cursor:] {
		if !s.log.Evaluated(id) {
			n++
		}
	}
	return n
}

// Decide applies the reviewer's decision on a queued case and persists the session log before returning.
func (s *Session) Decide(ctx context.Context, caseID string, d Decision) (Result, error) {
	ctx = logging.WithAttrs(s.withAttrs(ctx),
		slog.String("case_id", caseID), slog.String("decision", string(d.Kind)))
	result, err := s.decide(ctx, caseID, d)
	if err != nil {
		return result, errors.Wrap(err, "decide", slog.String("case_id", caseID))
	}
	return result, nil
}

func (s *Session) decide(ctx context.Context, caseID string, d Decision) (Result, error) {
	var result Result
	if err := d.check(); err != nil {
		return result, err
	}
	if s.log.Evaluated(caseID) {
		return result, ErrAlreadyEvaluated
	}
	if !slices.Contains(s.queue, caseID) {
		return result, ErrNotInQueue
	}

	m := s.manager
	c, err := m.cases.Get(ctx, caseID)
	if err != nil {
		return result, errors.Wrap(err, "load case")
	}
	current, ok := c.Current()
	if !ok {
		return result, errors.New("case has no iterations")
	}
	edited, err := editedIteration(s.log.ReviewerID, current, d)
	if err != nil {
		return result, err
	}

	applied, status, err := m.apply(ctx, s.log.ReviewerID, c, d, edited)
	if err != nil {
		return result, err
	}

	evaluation := models.Evaluation{
		CaseID:     caseID,
		Iteration:  current.Index,
		Decision:   d.Kind,
		Reason:     d.Reason,
		Categories: d.Categories,
		Applied:    applied,
		Timestamp:  m.now().UTC(),
	}
	// The case store already holds the decision, so the evaluation stays in memory even if saving fails and the next
	// successful save picks it up.
	s.log.Evaluations = append(s.log.Evaluations, evaluation)
	m.metrics.ReviewDecision(string(d.Kind), applied)
	if err = m.sessions.Save(ctx, s.log); err != nil {
		return result, errors.Wrap(err, "persist session log")
	}
	m.logger.LogAttrs(ctx, slog.LevelInfo, "recorded decision",
		slog.Bool("applied", applied), slog.String("status", string(status)))

	if s.cursor < len(s.queue) && s.queue[s.cursor] == caseID {
		s.cursor++
	}
	return Result{Evaluation: evaluation, Status: status}, nil
}

// Quit ends the session. Every decision is already durable, so this only flushes the log once more in case the last
// save failed.
func (s *Session) Quit(ctx context.Context) error {
	ctx = s.withAttrs(ctx)
	if len(s.log.Evaluations) == 0 {
		return nil
	}
	if err := s.manager.sessions.Save(ctx, s.log); err != nil {
		return errors.Wrap(err, "save session on quit")
	}
	s.manager.logger.LogAttrs(ctx, slog.LevelInfo, "quit review session",
		slog.Int("evaluated", len(s.log.Evaluations)), slog.Int("remaining", s.Remaining()))
	return nil
}
