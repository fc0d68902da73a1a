package review_test

import (
	"context"
	"io"
	"testing"

	"github.com/myrjola/valuebench/internal/conflict"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/repositories"
	"github.com/myrjola/valuebench/internal/review"
	"github.com/myrjola/valuebench/internal/sessionstore"
	"github.com/myrjola/valuebench/internal/sqlite/sqlitetest"
	"github.com/myrjola/valuebench/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cases    *repositories.CaseRepository
	sessions *sessionstore.FileStore
	manager  *review.Manager
}

func newFixture(t *testing.T, policy models.DecisionPolicy) fixture {
	t.Helper()
	logger := testhelpers.NewLogger(io.Discard)
	cases := repositories.NewCaseRepository(sqlitetest.NewDatabase(t), logger)
	sessions := sessionstore.NewFileStore(t.TempDir(), logger)
	return fixture{
		cases:    cases,
		sessions: sessions,
		manager:  review.NewManager(cases, sessions, policy, nil, logger),
	}
}

func conflictTags() models.ChoiceTags {
	return models.ChoiceTags{
		Choice1: models.NeutralTags().With(models.Autonomy, models.Promotes).With(models.Justice, models.Violates),
		Choice2: models.NeutralTags().With(models.Autonomy, models.Violates).With(models.Justice, models.Promotes),
	}
}

// seed stores n tagged cases and returns their ids in creation order.
func (f fixture) seed(t *testing.T, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for range n {
		id, err := f.cases.Create(ctx, models.Iteration{
			Vignette:      "A scarce ventilator and two patients.",
			DecisionMaker: "ICU physician",
			Choice1:       "Honour the advance directive",
			Choice2:       "Allocate by prognosis",
			Tags:          conflictTags(),
			Provenance:    models.ProvenanceTagValues,
		})
		require.NoError(t, err)
		require.NoError(t, f.cases.SetStatus(ctx, id, models.StatusTagged))
		ids = append(ids, id)
	}
	return ids
}

func (f fixture) status(t *testing.T, id string) models.Status {
	t.Helper()
	c, err := f.cases.Get(context.Background(), id)
	require.NoError(t, err)
	return c.Status
}

func approve() review.Decision {
	return review.Decision{Kind: models.DecisionApprove}
}

func reject(reason string) review.Decision {
	return review.Decision{Kind: models.DecisionReject, Reason: reason, Categories: []string{"ethical"}}
}

func currentID(t *testing.T, s *review.Session) string {
	t.Helper()
	c, err := s.Current(context.Background())
	require.NoError(t, err)
	if c == nil {
		return ""
	}
	return c.ID
}

func TestSession_EmptyQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.LastWriterWins)
	s, err := f.manager.Open(context.Background(), "ada")
	require.NoError(t, err)
	require.Empty(t, currentID(t, s))
	require.Zero(t, s.Remaining())
	require.NoError(t, s.Quit(context.Background()))
}

func TestSession_Resume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, models.LastWriterWins)
	ids := f.seed(t, 4)

	s, err := f.manager.Open(ctx, "ada")
	require.NoError(t, err)
	require.Equal(t, 4, s.Remaining())
	require.Equal(t, ids[0], currentID(t, s))

	res, err := s.Decide(ctx, ids[0], approve())
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, res.Status)
	require.True(t, res.Evaluation.Applied)
	require.Equal(t, ids[1], currentID(t, s))

	_, err = s.Decide(ctx, ids[1], reject("both choices are defensible only on paper"))
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, f.status(t, ids[1]))
	require.Equal(t, ids[2], currentID(t, s))

	// Quitting without a further decision and reopening lands strictly after the last evaluated case.
	require.NoError(t, s.Quit(ctx))
	resumed, err := f.manager.Open(ctx, "ADA")
	require.NoError(t, err)
	require.Len(t, resumed.Evaluations(), 2)
	require.Equal(t, 2, resumed.Remaining())
	require.Equal(t, ids[2], currentID(t, resumed))

	var seen []string
	for c := currentID(t, resumed); c != ""; c = currentID(t, resumed) {
		seen = append(seen, c)
		_, err = resumed.Decide(ctx, c, approve())
		require.NoError(t, err)
	}
	require.Equal(t, []string{ids[2], ids[3]}, seen)
}

func TestSession_DeletedSessionFileRestartsQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, models.LastWriterWins)
	ids := f.seed(t, 2)

	s, err := f.manager.Open(ctx, "ada")
	require.NoError(t, err)
	_, err = s.Decide(ctx, ids[0], approve())
	require.NoError(t, err)
	require.NoError(t, f.sessions.Reset(ctx, "ada"))

	// The history is gone but the queue is still correct, because decided cases are no longer eligible.
	s, err = f.manager.Open(ctx, "ada")
	require.NoError(t, err)
	require.Empty(t, s.Evaluations())
	require.Equal(t, ids[1], currentID(t, s))
}

func TestSession_DecideErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		decision review.Decision
		caseID   func(ids []string) string
		want     error
	}{
		{
			name:     "reject without reason",
			decision: review.Decision{Kind: models.DecisionReject, Reason: "  "},
			caseID:   func(ids []string) string { return ids[0] },
			want:     review.ErrReasonRequired,
		},
		{
			name:     "edit without iteration",
			decision: review.Decision{Kind: models.DecisionEditApprove},
			caseID:   func(ids []string) string { return ids[0] },
			want:     review.ErrEditRequired,
		},
		{
			name:     "unknown decision",
			decision: review.Decision{Kind: "maybe"},
			caseID:   func(ids []string) string { return ids[0] },
			want:     review.ErrUnknownDecision,
		},
		{
			name:     "unknown category",
			decision: review.Decision{Kind: models.DecisionApprove, Categories: []string{"vibes"}},
			caseID:   func(ids []string) string { return ids[0] },
			want:     review.ErrUnknownCategory,
		},
		{
			name:     "case outside the queue",
			decision: approve(),
			caseID:   func([]string) string { return "missing" },
			want:     review.ErrNotInQueue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newFixture(t, models.LastWriterWins)
			ids := f.seed(t, 1)
			s, err := f.manager.Open(ctx, "ada")
			require.NoError(t, err)

			_, err = s.Decide(ctx, tt.caseID(ids), tt.decision)
			require.ErrorIs(t, err, tt.want)
			require.Empty(t, s.Evaluations())
			require.Equal(t, models.StatusTagged, f.status(t, ids[0]))
			require.Equal(t, ids[0], currentID(t, s))
		})
	}
}

func TestSession_DecideTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, models.LastWriterWins)
	ids := f.seed(t, 1)
	s, err := f.manager.Open(ctx, "ada")
	require.NoError(t, err)

	_, err = s.Decide(ctx, ids[0], approve())
	require.NoError(t, err)
	_, err = s.Decide(ctx, ids[0], reject("changed my mind"))
	require.ErrorIs(t, err, review.ErrAlreadyEvaluated)
	require.Equal(t, models.StatusApproved, f.status(t, ids[0]))
}

func TestSession_EditApprove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, models.LastWriterWins)
	ids := f.seed(t, 1)
	s, err := f.manager.Open(ctx, "ada")
	require.NoError(t, err)

	edited := models.Iteration{
		Vignette: "A scarce ventilator, two patients and a family that disagrees.",
		Choice1:  "Honour the advance directive",
		Choice2:  "Allocate by prognosis",
		Tags:     conflictTags(),
	}
	res, err := s.Decide(ctx, ids[0], review.Decision{
		Kind:       models.DecisionEditApprove,
		Reason:     "sharpened the family conflict",
		Categories: []string{"stylistic"},
		Edited:     &edited,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, res.Status)
	require.Equal(t, 0, res.Evaluation.Iteration, "the evaluation refers to the reviewed iteration")

	c, err := f.cases.Get(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, c.Status)
	require.Len(t, c.Iterations, 2)
	current, _ := c.Current()
	require.Equal(t, models.ProvenanceEditorEdit, current.Provenance)
	require.Equal(t, edited.Vignette, current.Vignette)
	require.Equal(t, "ICU physician", current.DecisionMaker)
	require.NotNil(t, current.Feedback)
	require.Equal(t, "ada", current.Feedback.Reviewers[0].Name)
	require.Equal(t, "sharpened the family conflict", current.Feedback.Comments)
}

func TestSession_EditApproveRefusesInvalidDilemma(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, models.LastWriterWins)
	ids := f.seed(t, 1)
	s, err := f.manager.Open(ctx, "ada")
	require.NoError(t, err)

	edited := models.Iteration{
		Vignette: "One obviously better option.",
		Choice1:  "Good",
		Choice2:  "Bad",
		Tags: models.ChoiceTags{
			Choice1: models.NeutralTags().With(models.Autonomy, models.Promotes),
			Choice2: models.NeutralTags().With(models.Autonomy, models.Violates),
		},
	}
	_, err = s.Decide(ctx, ids[0], review.Decision{Kind: models.DecisionEditApprove, Edited: &edited})
	var validationErr *conflict.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.True(t, validationErr.Result.Failed(conflict.RuleEngagement))

	c, err := f.cases.Get(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, c.Iterations, 1)
	require.Equal(t, models.StatusTagged, c.Status)
	require.Empty(t, s.Evaluations())
}

func TestSession_Policies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		policy      models.DecisionPolicy
		first       review.Decision
		second      review.Decision
		wantFirst   models.Status
		wantSecond  models.Status
		wantApplied [2]bool
	}{
		{
			name:        "last writer wins",
			policy:      models.LastWriterWins,
			first:       approve(),
			second:      reject("factually wrong"),
			wantFirst:   models.StatusApproved,
			wantSecond:  models.StatusRejected,
			wantApplied: [2]bool{true, true},
		},
		{
			name:        "first decision wins",
			policy:      models.FirstDecisionWins,
			first:       approve(),
			second:      reject("factually wrong"),
			wantFirst:   models.StatusApproved,
			wantSecond:  models.StatusApproved,
			wantApplied: [2]bool{true, false},
		},
		{
			name:        "two reviewers agree",
			policy:      models.TwoReviewers,
			first:       approve(),
			second:      approve(),
			wantFirst:   models.StatusUnderReview,
			wantSecond:  models.StatusApproved,
			wantApplied: [2]bool{false, true},
		},
		{
			name:        "two reviewers disagree",
			policy:      models.TwoReviewers,
			first:       approve(),
			second:      reject("factually wrong"),
			wantFirst:   models.StatusUnderReview,
			wantSecond:  models.StatusUnderReview,
			wantApplied: [2]bool{false, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newFixture(t, tt.policy)
			ids := f.seed(t, 1)

			// Both reviewers open before either decides, so the case is in both queues.
			ada, err := f.manager.Open(ctx, "ada")
			require.NoError(t, err)
			grace, err := f.manager.Open(ctx, "grace")
			require.NoError(t, err)

			res, err := ada.Decide(ctx, ids[0], tt.first)
			require.NoError(t, err)
			require.Equal(t, tt.wantApplied[0], res.Evaluation.Applied)
			require.Equal(t, tt.wantFirst, f.status(t, ids[0]))

			res, err = grace.Decide(ctx, ids[0], tt.second)
			require.NoError(t, err)
			require.Equal(t, tt.wantApplied[1], res.Evaluation.Applied)
			require.Equal(t, tt.wantSecond, f.status(t, ids[0]))

			// Both evaluations are retained regardless of the policy.
			logs, err := f.sessions.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, logs, 2)
			for _, log := range logs {
				require.Len(t, log.Evaluations, 1)
			}
		})
	}
}

// failingStore fails every Resolve after the first allowed ones.
type failingStore struct {
	*repositories.CaseRepository
	allowed int
}

func (s *failingStore) Resolve(
	ctx context.Context,
	id string,
	edited *models.Iteration,
	newStatus models.Status,
	reopen bool,
) (int, error) {
	if s.allowed == 0 {
		return 0, errors.New("disk full")
	}
	s.allowed--
	return s.CaseRepository.Resolve(ctx, id, edited, newStatus, reopen)
}

func TestSession_FailedOverrideKeepsDecision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, models.LastWriterWins)
	ids := f.seed(t, 1)
	store := &failingStore{CaseRepository: f.cases, allowed: 1}
	manager := review.NewManager(store, f.sessions, models.LastWriterWins, nil, testhelpers.NewLogger(io.Discard))

	ada, err := manager.Open(ctx, "ada")
	require.NoError(t, err)
	grace, err := manager.Open(ctx, "grace")
	require.NoError(t, err)
	_, err = ada.Decide(ctx, ids[0], approve())
	require.NoError(t, err)

	_, err = grace.Decide(ctx, ids[0], reject("factually wrong"))
	require.Error(t, err)
	require.Equal(t, models.StatusApproved, f.status(t, ids[0]))
	require.Empty(t, grace.Evaluations())

	// A fresh session finds nothing to review because the case never left approved.
	fresh, err := manager.Open(ctx, "linus")
	require.NoError(t, err)
	require.Zero(t, fresh.Remaining())
}

func TestSession_CurrentSkipsCasesDecidedElsewhere(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, models.LastWriterWins)
	ids := f.seed(t, 2)

	ada, err := f.manager.Open(ctx, "ada")
	require.NoError(t, err)
	grace, err := f.manager.Open(ctx, "grace")
	require.NoError(t, err)

	_, err = ada.Decide(ctx, ids[0], approve())
	require.NoError(t, err)
	require.Equal(t, ids[1], currentID(t, grace))
}
