package models

import (
	"time"
)

// Provenance names the workflow or event that produced an iteration.
type Provenance string

const (
	ProvenanceSeed           Provenance = "seed"
	ProvenanceRefine         Provenance = "refine"
	ProvenanceTagValues      Provenance = "tag_values"
	ProvenanceReviewerImport Provenance = "reviewer-import"
	ProvenanceEditorEdit     Provenance = "editor-edit"
)

// Case is one dilemma with its full revision history.
//
// Iterations are append-only and ordered by insertion. The current content of a case is its last iteration.
type Case struct {
	ID         string      `json:"case_id"`
	Status     Status      `json:"status"`
	Iterations []Iteration `json:"iterations"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Current returns the last iteration. ok is false for a case without iterations.
func (c *Case) Current() (Iteration, bool) {
	if len(c.Iterations) == 0 {
		return Iteration{}, false //nolint:exhaustruct // zero value signals absence.
	}
	return c.Iterations[len(c.Iterations)-1], true
}

// LatestFeedback returns the most recent reviewer feedback in the history, if any.
func (c *Case) LatestFeedback() *ReviewerFeedback {
	for i := len(c.Iterations) - 1; i >= 0; i-- {
		if c.Iterations[i].Feedback != nil {
			return c.Iterations[i].Feedback
		}
	}
	return nil
}

// Iteration is one frozen snapshot of a case.
type Iteration struct {
	// Index is the position in the case history, assigned by the case store.
	Index         int               `json:"index"`
	Vignette      string            `json:"vignette"`
	DecisionMaker string            `json:"decision_maker"`
	Choice1       string            `json:"choice_1"`
	Choice2       string            `json:"choice_2"`
	Tags          ChoiceTags        `json:"value_tags"`
	Provenance    Provenance        `json:"provenance"`
	Feedback      *ReviewerFeedback `json:"reviewer_feedback,omitempty"`
	// Annotations record validation failures that were accepted anyway, e.g. by a forced import.
	Annotations []string  `json:"annotations,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SameContent reports whether the reviewer-visible content of two iterations is identical.
func (it Iteration) SameContent(other Iteration) bool {
	return it.Vignette == other.Vignette &&
		it.Choice1 == other.Choice1 &&
		it.Choice2 == other.Choice2 &&
		it.Tags == other.Tags
}

// ReviewerSlot is one named reviewer column pair of the review surface.
type ReviewerSlot struct {
	Slot     string   `json:"slot"`
	Name     string   `json:"name"`
	Decision Decision `json:"decision,omitempty"`
}

// ReviewerFeedback is the reviewer block carried by imported or edited iterations.
type ReviewerFeedback struct {
	Reviewers  []ReviewerSlot `json:"reviewers,omitempty"`
	Categories []string       `json:"categories,omitempty"`
	Comments   string         `json:"comments,omitempty"`
}

// Decision is a reviewer verdict.
type Decision string

const (
	DecisionApprove     Decision = "approve"
	DecisionReject      Decision = "reject"
	DecisionEditApprove Decision = "edit+approve"
)

// Approves reports whether the decision counts as an approval.
func (d Decision) Approves() bool {
	return d == DecisionApprove || d == DecisionEditApprove
}

// Outcome returns the terminal status the decision leads to.
func (d Decision) Outcome() Status {
	if d.Approves() {
		return StatusApproved
	}
	return StatusRejected
}

// Evaluation is one reviewer's verdict on one case iteration.
type Evaluation struct {
	CaseID     string   `json:"case_id"`
	Iteration  int      `json:"iteration"`
	Decision   Decision `json:"decision"`
	Reason     string   `json:"reason,omitempty"`
	Categories []string `json:"categories,omitempty"`
	// Applied is false when the decision policy recorded the evaluation without changing the case status.
	Applied   bool      `json:"applied"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionLog is the persisted state of one reviewer's review session.
type SessionLog struct {
	ReviewerID  string       `json:"reviewer_id"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Evaluations []Evaluation `json:"evaluations"`
}

// Evaluated reports whether the log holds an evaluation for caseID.
func (l *SessionLog) Evaluated(caseID string) bool {
	for _, e := range l.Evaluations {
		if e.CaseID == caseID {
			return true
		}
	}
	return false
}

// ImportOutcome records what happened to an imported row.
type ImportOutcome string

const (
	ImportApplied   ImportOutcome = "applied"
	ImportForced    ImportOutcome = "forced"
	ImportInvalid   ImportOutcome = "invalid"
	ImportUnchanged ImportOutcome = "unchanged"
	ImportSkipped   ImportOutcome = "skipped"
)

// ImportRecord marks a (case, row content) pair as already imported.
type ImportRecord struct {
	CaseID      string        `json:"case_id" db:"case_id"`
	ContentHash string        `json:"content_hash" db:"content_hash"`
	Outcome     ImportOutcome `json:"outcome" db:"outcome"`
	ImportedAt  time.Time     `json:"imported_at" db:"imported_at"`
}
