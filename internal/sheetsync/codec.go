package sheetsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/models"
)

// ErrSchemaMismatch is returned for a sheet whose header lacks a structural column.
var ErrSchemaMismatch = errors.NewSentinel("sheet schema mismatch")

const (
	ColCaseID      = "Case ID"
	ColR1          = "R1"
	ColR1Decision  = "R1 Decision?"
	ColR2          = "R2"
	ColR2Decision  = "R2 Decision?"
	ColStatus      = "Status"
	ColVignette    = "Vignette"
	ColChoice1     = "Choice 1"
	ColChoice2     = "Choice 2"
	ColComments    = "Reviewer Comments"
	ColValidation  = "Validation Result"
	reviewerSlot1  = "R1"
	reviewerSlot2  = "R2"
	decisionHeader = " Decision?"
)

// TagColumn names the column holding the tag of principle p for choice 1 or 2, e.g. "Autonomy C1".
func TagColumn(p models.Principle, choice int) string {
	name := string(p)
	return strings.ToUpper(name[:1]) + name[1:] + fmt.Sprintf(" C%d", choice)
}

// Header is the column order written by export.
var Header = func() []string {
	h := []string{ColCaseID, ColR1, ColR1Decision, ColR2, ColR2Decision, ColStatus, ColVignette, ColChoice1}
	for _, p := range models.Principles {
		h = append(h, TagColumn(p, 1))
	}
	h = append(h, ColChoice2)
	for _, p := range models.Principles {
		h = append(h, TagColumn(p, 2))
	}
	return append(h, ColComments, ColValidation)
}()

// structural columns must be present for import or append to work at all.
var structural = func() []string {
	s := []string{ColCaseID, ColVignette, ColChoice1, ColChoice2}
	for choice := 1; choice <= 2; choice++ {
		for _, p := range models.Principles {
			s = append(s, TagColumn(p, choice))
		}
	}
	return s
}()

func normalizeHeader(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), "?")
}

// layout maps column names to their index in a concrete sheet. Columns are matched by name, ignoring case,
// surrounding spaces and a trailing question mark, so reviewers may reorder columns.
type layout struct {
	index map[string]int
	width int
}

func parseLayout(header []string) (layout, error) {
	l := layout{index: make(map[string]int, len(header)), width: len(header)}
	for i, h := range header {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		if _, dup := l.index[key]; !dup {
			l.index[key] = i
		}
	}
	var missing []string
	for _, col := range structural {
		if _, ok := l.index[normalizeHeader(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return l, errors.Wrap(ErrSchemaMismatch, "missing structural columns",
			slog.String("columns", strings.Join(missing, ", ")))
	}
	return l, nil
}

func (l layout) col(name string) (int, bool) {
	i, ok := l.index[normalizeHeader(name)]
	return i, ok
}

func (l layout) cell(row []string, name string) string {
	i, ok := l.col(name)
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// encode renders the record in this layout. Columns the layout lacks are dropped.
func (l layout) encode(r rowRecord, status models.Status) []string {
	row := make([]string, l.width)
	set := func(name, value string) {
		if i, ok := l.col(name); ok {
			row[i] = value
		}
	}
	set(ColCaseID, r.CaseID)
	set(ColR1, r.Reviewers[0].Name)
	set(ColR1Decision, string(r.Reviewers[0].Decision))
	set(ColR2, r.Reviewers[1].Name)
	set(ColR2Decision, string(r.Reviewers[1].Decision))
	set(ColStatus, string(status))
	set(ColVignette, r.Vignette)
	set(ColChoice1, r.Choice1)
	set(ColChoice2, r.Choice2)
	for _, p := range models.Principles {
		set(TagColumn(p, 1), string(r.Tags.Choice1.Get(p)))
		set(TagColumn(p, 2), string(r.Tags.Choice2.Get(p)))
	}
	set(ColComments, r.Comments)
	return row
}

// rowRecord is one sheet row parsed into typed fields.
type rowRecord struct {
	CaseID    string
	Vignette  string
	Choice1   string
	Choice2   string
	Tags      models.ChoiceTags
	Reviewers [2]models.ReviewerSlot
	Comments  string
}

// recordFromCase maps the current iteration of c and its latest reviewer feedback to a row.
func recordFromCase(c *models.Case) (rowRecord, bool) {
	current, ok := c.Current()
	if !ok {
		return rowRecord{}, false
	}
	r := rowRecord{
		CaseID:   c.ID,
		Vignette: current.Vignette,
		Choice1:  current.Choice1,
		Choice2:  current.Choice2,
		Tags:     current.Tags,
		Reviewers: [2]models.ReviewerSlot{
			{Slot: reviewerSlot1, Name: "", Decision: ""},
			{Slot: reviewerSlot2, Name: "", Decision: ""},
		},
		Comments: "",
	}
	if feedback := c.LatestFeedback(); feedback != nil {
		for _, slot := range feedback.Reviewers {
			switch slot.Slot {
			case reviewerSlot1:
				r.Reviewers[0] = slot
			case reviewerSlot2:
				r.Reviewers[1] = slot
			}
		}
		r.Comments = feedback.Comments
	}
	return r, true
}

// decodeRow parses a data row strictly and returns every problem found, sorted. The record is only usable when
// there are no problems.
func (l layout) decodeRow(row []string) (rowRecord, []string) {
	var problems []string
	r := rowRecord{
		CaseID:   l.cell(row, ColCaseID),
		Vignette: l.cell(row, ColVignette),
		Choice1:  l.cell(row, ColChoice1),
		Choice2:  l.cell(row, ColChoice2),
		Tags:     models.ChoiceTags{Choice1: models.ValueTagSet{}, Choice2: models.ValueTagSet{}},
		Comments: l.cell(row, ColComments),
	}
	for name, value := range map[string]string{ColCaseID: r.CaseID, ColVignette: r.Vignette,
		ColChoice1: r.Choice1, ColChoice2: r.Choice2} {
		if value == "" {
			problems = append(problems, "missing "+name)
		}
	}
	for _, p := range models.Principles {
		for choice, set := range map[int]*models.ValueTagSet{1: &r.Tags.Choice1, 2: &r.Tags.Choice2} {
			column := TagColumn(p, choice)
			raw := l.cell(row, column)
			tag, err := models.ParseTag(raw)
			if err != nil {
				problems = append(problems, fmt.Sprintf("invalid tag %q in %s", raw, column))
				continue
			}
			*set = set.With(p, tag)
		}
	}
	for i, slot := range []string{reviewerSlot1, reviewerSlot2} {
		raw := l.cell(row, slot+decisionHeader)
		decision, err := parseDecision(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("invalid decision %q in %s", raw, slot+decisionHeader))
		}
		r.Reviewers[i] = models.ReviewerSlot{Slot: slot, Name: l.cell(row, slot), Decision: decision}
	}
	slices.Sort(problems)
	return r, problems
}

// parseDecision accepts the spellings reviewers use in the decision columns. An empty cell means no decision yet.
func parseDecision(raw string) (models.Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case "approve", "approved", "yes":
		return models.DecisionApprove, nil
	case "reject", "rejected", "no":
		return models.DecisionReject, nil
	default:
		return "", errors.Wrap(ErrSchemaMismatch, "parse decision", slog.String("decision", raw))
	}
}

// iteration converts the row into a reviewer-import iteration of c.
func (r rowRecord) iteration(decisionMaker string) models.Iteration {
	feedback := &models.ReviewerFeedback{Reviewers: nil, Categories: nil, Comments: r.Comments}
	for _, slot := range r.Reviewers {
		if slot.Name != "" || slot.Decision != "" {
			feedback.Reviewers = append(feedback.Reviewers, slot)
		}
	}
	return models.Iteration{
		Index:         0,
		Vignette:      r.Vignette,
		DecisionMaker: decisionMaker,
		Choice1:       r.Choice1,
		Choice2:       r.Choice2,
		Tags:          r.Tags,
		Provenance:    models.ProvenanceReviewerImport,
		Feedback:      feedback,
		Annotations:   nil,
	}
}

func (r rowRecord) hasReview() bool {
	return r.Comments != "" || r.Reviewers[0].Decision != "" || r.Reviewers[1].Decision != ""
}

// hash fingerprints the reviewer-editable content of the row. Tags are hashed in their parsed form so that
// "Promotes" and "promotes" hash alike.
func (r rowRecord) hash() (string, error) {
	data, err := json.Marshal(struct {
		Vignette  string                 `json:"vignette"`
		Choice1   string                 `json:"choice_1"`
		Choice2   string                 `json:"choice_2"`
		Tags      models.ChoiceTags      `json:"value_tags"`
		Reviewers [2]models.ReviewerSlot `json:"reviewers"`
		Comments  string                 `json:"comments"`
	}{r.Vignette, r.Choice1, r.Choice2, r.Tags, r.Reviewers, r.Comments})
	if err != nil {
		return "", errors.Wrap(err, "marshal row content")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
