package sheetsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/myrjola/valuebench/internal/conflict"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/logging"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/repositories"
	"github.com/myrjola/valuebench/internal/sheets"
)

type ImportMode string

const (
	// ImportCommit appends an iteration for every valid changed row.
	ImportCommit ImportMode = "commit"
	// ImportDryRun writes the verdicts back and reports what commit would do with each row, without touching the
	// case store.
	ImportDryRun ImportMode = "dry_run"
	// ImportValidateOnly only runs the validator and writes the verdicts back. The report carries the violations.
	ImportValidateOnly ImportMode = "validate_only"
	// ImportForce is ImportCommit that also applies invalid rows, annotating the iteration with the violations.
	ImportForce ImportMode = "force"
)

func (m ImportMode) mutates() bool {
	return m == ImportCommit || m == ImportForce
}

func ParseImportMode(s string) (ImportMode, error) {
	switch m := ImportMode(s); m {
	case ImportCommit, ImportDryRun, ImportValidateOnly, ImportForce:
		return m, nil
	default:
		return "", errors.New("unknown import mode", slog.String("mode", s))
	}
}

// rowUpdate is the outcome of one row plus the cells to write back into it.
type rowUpdate struct {
	result  RowResult
	verdict string
	status  models.Status
}

// Import reads every row of the sheet and processes it according to mode. Problems with single rows are reported
// in the returned ImportReport. An error is returned only when the sheet cannot be read or written, or its header
// lacks a structural column.
func (s *Synchronizer) Import(ctx context.Context, mode ImportMode) (ImportReport, error) {
	ctx = logging.WithAttrs(ctx, slog.String("mode", string(mode)))
	report := ImportReport{Mode: mode, Rows: nil}
	if _, err := ParseImportMode(string(mode)); err != nil {
		return report, err
	}
	rows, err := s.surface.GetRows(ctx)
	if err != nil {
		return report, errors.Wrap(err, "read sheet")
	}
	if len(rows) == 0 || emptyRow(rows[0]) {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "sheet is empty")
		return report, nil
	}
	l, err := parseLayout(rows[0])
	if err != nil {
		return report, errors.Wrap(err, "parse sheet header")
	}

	var updates []sheets.Range
	validationCol, hasValidation := l.col(ColValidation)
	if !hasValidation {
		validationCol = l.width
		updates = append(updates, cellRange(0, validationCol, ColValidation))
	}
	statusCol, hasStatus := l.col(ColStatus)

	for i, row := range rows[1:] {
		if err = ctx.Err(); err != nil {
			return report, errors.Wrap(err, "import rows", slog.Int("processed", len(report.Rows)))
		}
		if emptyRow(row) {
			continue
		}
		u := s.importRow(ctx, mode, l, row)
		u.result.Row = i + 2
		report.Rows = append(report.Rows, u.result)
		s.metrics.ImportRow(string(u.result.Outcome))
		if u.verdict != "" {
			updates = append(updates, cellRange(i+1, validationCol, u.verdict))
		}
		if u.status != "" && hasStatus {
			updates = append(updates, cellRange(i+1, statusCol, string(u.status)))
		}
	}

	if len(report.Rows) > 0 {
		if err = s.surface.SetRanges(ctx, updates); err != nil {
			return report, errors.Wrap(err, "write validation results", slog.Int("cells", len(updates)))
		}
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "imported rows",
		slog.Int("rows", len(report.Rows)),
		slog.Int("imported", report.Count(OutcomeImported)+report.Count(OutcomeForced)),
		slog.Int("failed", report.Count(OutcomeFailed)))
	return report, nil
}

func cellRange(row, col int, value string) sheets.Range {
	return sheets.Range{Row: row, Col: col, Values: [][]string{{value}}}
}

func (s *Synchronizer) importRow(ctx context.Context, mode ImportMode, l layout, row []string) rowUpdate {
	record, problems := l.decodeRow(row)
	u := rowUpdate{result: RowResult{Row: 0, CaseID: record.CaseID, Outcome: "", Detail: ""}, verdict: "", status: ""}
	if len(problems) > 0 {
		u.result.Outcome = OutcomeMalformed
		u.result.Detail = strings.Join(problems, "; ")
		u.verdict = "MALFORMED: " + u.result.Detail
		return u
	}
	ctx = logging.WithAttrs(ctx, slog.String("case_id", record.CaseID))
	fail := func(err error, detail string) rowUpdate {
		s.logger.LogAttrs(ctx, slog.LevelError, "import row failed", errors.SlogError(err))
		u.result.Outcome = OutcomeFailed
		u.result.Detail = detail
		u.verdict = "ERROR: " + detail
		return u
	}

	hash, err := record.hash()
	if err != nil {
		return fail(err, err.Error())
	}
	prior, seen, err := s.cases.LookupImport(ctx, record.CaseID, hash)
	if err != nil {
		return fail(err, "could not read import records")
	}
	if seen && !(mode == ImportForce && prior.Outcome == models.ImportInvalid) {
		return s.duplicate(ctx, mode, l, row, record, prior, u)
	}

	verdict := conflict.ValidateTags(record.Tags)
	violations := strings.Join(verdict.Messages(), "; ")
	u.verdict = verdict.Summary()
	c, err := s.cases.Get(ctx, record.CaseID)
	if errors.Is(err, repositories.ErrNotFound) {
		return fail(err, "unknown case")
	}
	if err != nil {
		return fail(err, "could not load case")
	}

	if mode == ImportValidateOnly {
		u.result.Outcome = validity(verdict)
		u.result.Detail = violations
		return u
	}

	// Rows that end up only recorded: invalid ones, ones without changes and ones the policy refuses.
	var (
		recorded models.ImportOutcome
		outcome  RowOutcome
		detail   string
	)
	switch {
	case !verdict.Valid && mode != ImportForce:
		recorded, outcome, detail = models.ImportInvalid, OutcomeInvalid, violations
	case s.unchanged(c, hash):
		recorded, outcome = models.ImportUnchanged, OutcomeUnchanged
	case c.Status.Terminal() && s.policy != models.LastWriterWins:
		recorded, outcome = models.ImportSkipped, OutcomeSkipped
		detail = "case already " + string(c.Status) + " under policy " + string(s.policy)
	}
	target := s.targetStatus(record)

	if mode == ImportDryRun {
		u.result.Outcome = validity(verdict)
		switch {
		case outcome == "":
			u.result.Detail = fmt.Sprintf("would import, status %s", target)
		case detail == "":
			u.result.Detail = "would be " + string(outcome)
		default:
			u.result.Detail = "would be " + string(outcome) + ": " + detail
		}
		return u
	}

	imported := models.ImportRecord{CaseID: c.ID, ContentHash: hash, Outcome: recorded, ImportedAt: s.now()}
	if outcome != "" {
		if err = s.cases.RecordImport(ctx, imported); err != nil {
			return fail(err, "could not record import")
		}
		u.result.Outcome = outcome
		u.result.Detail = detail
		return u
	}

	current, _ := c.Current()
	it := record.iteration(current.DecisionMaker)
	imported.Outcome = models.ImportApplied
	u.result.Outcome = OutcomeImported
	if !verdict.Valid {
		it.Annotations = verdict.Messages()
		imported.Outcome = models.ImportForced
		u.result.Outcome = OutcomeForced
		u.result.Detail = violations
		u.verdict = "FORCED: " + violations
	}
	idx, err := s.cases.ImportIteration(ctx, imported, it, target, c.Status.Terminal())
	if err != nil {
		return fail(err, "could not import iteration")
	}
	if u.result.Detail == "" {
		u.result.Detail = fmt.Sprintf("iteration %d, status %s", idx, target)
	}
	if target != c.Status {
		u.status = target
	}
	return u
}

// duplicate reports a row whose content was imported before. Its verdict and, when committing, the case status are
// written again so that a sheet whose earlier write-back failed catches up.
func (s *Synchronizer) duplicate(
	ctx context.Context,
	mode ImportMode,
	l layout,
	row []string,
	record rowRecord,
	prior models.ImportRecord,
	u rowUpdate,
) rowUpdate {
	u.result.Outcome = OutcomeDuplicate
	u.result.Detail = "already imported as " + string(prior.Outcome)
	verdict := conflict.ValidateTags(record.Tags)
	u.verdict = verdict.Summary()
	if prior.Outcome == models.ImportForced {
		u.verdict = "FORCED: " + strings.Join(verdict.Messages(), "; ")
	}
	if !mode.mutates() {
		return u
	}
	c, err := s.cases.Get(ctx, record.CaseID)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "could not load case of duplicate row", errors.SlogError(err))
		return u
	}
	if l.cell(row, ColStatus) != string(c.Status) {
		u.status = c.Status
	}
	return u
}

// unchanged reports whether hash matches the current iteration of c together with its latest feedback.
func (s *Synchronizer) unchanged(c *models.Case, hash string) bool {
	current, ok := recordFromCase(c)
	if !ok {
		return false
	}
	currentHash, err := current.hash()
	return err == nil && currentHash == hash
}

func validity(r conflict.Result) RowOutcome {
	if r.Valid {
		return OutcomeValid
	}
	return OutcomeInvalid
}

// targetStatus derives the case status from the reviewer decisions in the row. Under the two-reviewers policy both
// slots have to agree, otherwise a single reject outweighs any approvals.
func (s *Synchronizer) targetStatus(r rowRecord) models.Status {
	first, second := r.Reviewers[0].Decision, r.Reviewers[1].Decision
	if s.policy == models.TwoReviewers {
		if first != "" && first == second {
			return first.Outcome()
		}
		return models.StatusUnderReview
	}
	switch {
	case first == models.DecisionReject || second == models.DecisionReject:
		return models.StatusRejected
	case first.Approves() || second.Approves():
		return models.StatusApproved
	default:
		return models.StatusUnderReview
	}
}
