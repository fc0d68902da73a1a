// Package review drives reviewers through the queue of cases awaiting a verdict.
//
// A reviewer's progress lives in their session log. Every decision is applied to the case store first and then
// appended to the log, which is persisted before Decide returns, so an interrupted session resumes exactly after the
// last decision.
package review

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/myrjola/valuebench/internal/conflict"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/logging"
	"github.com/myrjola/valuebench/internal/metrics"
	"github.com/myrjola/valuebench/internal/models"
)

var (
	ErrReasonRequired   = errors.NewSentinel("reject requires a reason")
	ErrEditRequired     = errors.NewSentinel("edit+approve requires an edited iteration")
	ErrAlreadyEvaluated = errors.NewSentinel("case already evaluated by this reviewer")
	ErrNotInQueue       = errors.NewSentinel("case is not in the review queue")
	ErrUnknownDecision  = errors.NewSentinel("unknown decision")
	ErrUnknownCategory  = errors.NewSentinel("unknown problem category")
)

// CaseStore is the part of the case repository the review loop needs.
type CaseStore interface {
	Get(ctx context.Context, id string) (*models.Case, error)
	List(ctx context.Context, statuses ...models.Status) iter.Seq2[*models.Case, error]
	Resolve(ctx context.Context, id string, edited *models.Iteration, newStatus models.Status, reopen bool) (int, error)
}

// SessionStore persists session logs.
type SessionStore interface {
	Load(ctx context.Context, reviewerID string) (*models.SessionLog, error)
	Save(ctx context.Context, log *models.SessionLog) error
	LoadAll(ctx context.Context) ([]*models.SessionLog, error)
}

type Manager struct {
	cases    CaseStore
	sessions SessionStore
	policy   models.DecisionPolicy
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a Manager. m may be nil.
func NewManager(
	cases CaseStore,
	sessions SessionStore,
	policy models.DecisionPolicy,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cases:    cases,
		sessions: sessions,
		policy:   policy,
		metrics:  m,
		logger:   logger.With("source", "ReviewManager"),
		now:      time.Now,
	}
}

// Decision is what a reviewer submits for one case.
type Decision struct {
	Kind models.Decision
	// Reason is mandatory for rejections and optional otherwise.
	Reason     string
	Categories []string
	// Edited holds the reviewer's revised content for edit+approve.
	Edited *models.Iteration
}

func (d Decision) check() error {
	switch d.Kind {
	case models.DecisionApprove:
	case models.DecisionReject:
		if strings.TrimSpace(d.Reason) == "" {
			return ErrReasonRequired
		}
	case models.DecisionEditApprove:
		if d.Edited == nil {
			return ErrEditRequired
		}
	default:
		return errors.Wrap(ErrUnknownDecision, "check decision", slog.String("decision", string(d.Kind)))
	}
	for _, c := range d.Categories {
		if !models.ValidProblemCategory(c) {
			return errors.Wrap(ErrUnknownCategory, "check decision", slog.String("category", c))
		}
	}
	return nil
}

// Open loads or starts the reviewer's session and computes the queue: every tagged or under_review case the reviewer
// has not evaluated yet, in creation order.
func (m *Manager) Open(ctx context.Context, reviewerID string) (*Session, error) {
	log, err := m.sessions.Load(ctx, reviewerID)
	if err != nil {
		return nil, errors.Wrap(err, "load session log")
	}
	ctx = logging.WithAttrs(ctx, slog.String("reviewer_id", log.ReviewerID))

	var queue []string
	for c, listErr := range m.cases.List(ctx, models.Reviewable...) {
		if listErr != nil {
			return nil, errors.Wrap(listErr, "list reviewable cases")
		}
		if !log.Evaluated(c.ID) {
			queue = append(queue, c.ID)
		}
	}
	m.logger.LogAttrs(ctx, slog.LevelInfo, "opened review session",
		slog.Int("evaluated", len(log.Evaluations)),
		slog.Int("queued", len(queue)))
	return &Session{
		manager: m,
		log:     log,
		queue:   queue,
		cursor:  0,
	}, nil
}

// apply changes the case store according to the decision and the policy. It reports whether the case status was
// changed and the status the case ended in. The store applies the whole change in one transaction, including the
// reopen of a decided case under last-writer-wins.
func (m *Manager) apply(
	ctx context.Context,
	reviewerID string,
	c *models.Case,
	d Decision,
	edited *models.Iteration,
) (bool, models.Status, error) {
	if c.Status.Terminal() && m.policy != models.LastWriterWins {
		m.logger.LogAttrs(ctx, slog.LevelInfo, "case already decided, recording only",
			slog.String("case_id", c.ID),
			slog.String("status", string(c.Status)),
			slog.String("policy", string(m.policy)))
		return false, c.Status, nil
	}

	final := d.Kind.Outcome()
	if m.policy == models.TwoReviewers {
		agreed, err := m.otherReviewerAgrees(ctx, reviewerID, c.ID, final)
		if err != nil {
			return false, c.Status, err
		}
		if !agreed {
			final = models.StatusUnderReview
		}
	}

	// Entering a session counts as being under review, so a tagged case passes through under_review.
	if _, err := m.cases.Resolve(ctx, c.ID, edited, final, c.Status.Terminal()); err != nil {
		return false, c.Status, errors.Wrap(err, "resolve case")
	}
	return final.Terminal(), final, nil
}

// otherReviewerAgrees reports whether a different reviewer already reached the verdict outcome on the case.
func (m *Manager) otherReviewerAgrees(
	ctx context.Context,
	reviewerID string,
	caseID string,
	outcome models.Status,
) (bool, error) {
	logs, err := m.sessions.LoadAll(ctx)
	if err != nil {
		return false, errors.Wrap(err, "load other sessions")
	}
	for _, log := range logs {
		if log.ReviewerID == reviewerID {
			continue
		}
		for _, e := range log.Evaluations {
			if e.CaseID == caseID && e.Decision.Outcome() == outcome {
				return true, nil
			}
		}
	}
	return false, nil
}

// editedIteration prepares the reviewer's revision for storage and refuses content that is not a valid dilemma.
func editedIteration(reviewerID string, current models.Iteration, d Decision) (*models.Iteration, error) {
	if d.Edited == nil {
		return nil, nil
	}
	edited := *d.Edited
	if edited.DecisionMaker == "" {
		edited.DecisionMaker = current.DecisionMaker
	}
	if err := edited.Tags.Check(); err != nil {
		return nil, errors.Wrap(err, "check edited tags")
	}
	if err := conflict.ValidateTags(edited.Tags).Err(); err != nil {
		return nil, errors.Wrap(err, "validate edited tags")
	}
	edited.Index = 0
	edited.CreatedAt = time.Time{}
	edited.Annotations = nil
	edited.Provenance = models.ProvenanceEditorEdit
	edited.Feedback = &models.ReviewerFeedback{
		Reviewers:  []models.ReviewerSlot{{Slot: "editor", Name: reviewerID, Decision: models.DecisionEditApprove}},
		Categories: d.Categories,
		Comments:   d.Reason,
	}
	return &edited, nil
}
