package sheetsync

import (
	"fmt"
	"io"
	"strconv"

	"github.com/myrjola/valuebench/internal/errors"
)

// RowOutcome classifies what import did with one row.
type RowOutcome string

const (
	OutcomeImported  RowOutcome = "imported"
	OutcomeForced    RowOutcome = "forced"
	OutcomeUnchanged RowOutcome = "unchanged"
	OutcomeDuplicate RowOutcome = "duplicate"
	OutcomeValid     RowOutcome = "valid"
	OutcomeInvalid   RowOutcome = "invalid"
	OutcomeMalformed RowOutcome = "malformed"
	OutcomeSkipped   RowOutcome = "skipped"
	OutcomeFailed    RowOutcome = "failed"
)

var outcomes = []RowOutcome{
	OutcomeImported, OutcomeForced, OutcomeUnchanged, OutcomeDuplicate, OutcomeValid,
	OutcomeInvalid, OutcomeMalformed, OutcomeSkipped, OutcomeFailed,
}

type RowResult struct {
	// Row is the 1-based sheet row, the header being row 1.
	Row     int
	CaseID  string
	Outcome RowOutcome
	Detail  string
}

type ImportReport struct {
	Mode ImportMode
	Rows []RowResult
}

func (r ImportReport) Count(outcome RowOutcome) int {
	n := 0
	for _, row := range r.Rows {
		if row.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed reports whether any row hit an error that was not a validation or schema problem.
func (r ImportReport) Failed() bool {
	return r.Count(OutcomeFailed) > 0
}

// WriteSummary prints one line per row followed by the totals.
func (r ImportReport) WriteSummary(w io.Writer) error {
	for _, row := range r.Rows {
		if _, err := fmt.Fprintf(w, "row=%d case=%s outcome=%s detail=%q\n",
			row.Row, row.CaseID, row.Outcome, row.Detail); err != nil {
			return errors.Wrap(err, "write row summary")
		}
	}
	line := "mode=" + string(r.Mode) + " total=" + strconv.Itoa(len(r.Rows))
	for _, o := range outcomes {
		line += " " + string(o) + "=" + strconv.Itoa(r.Count(o))
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return errors.Wrap(err, "write summary")
	}
	return nil
}

type ExportReport struct {
	Mode   ExportMode
	DryRun bool
	// Selected counts the exportable cases, Written the rows that were (or in a dry run would be) written.
	Selected     int
	Written      int
	Skipped      int
	Transitioned int
	// Failed counts written cases whose move to under_review failed.
	Failed  int
	CaseIDs []string
}

func (r ExportReport) WriteSummary(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "mode=%s dry_run=%t selected=%d written=%d skipped=%d transitioned=%d failed=%d\n",
		r.Mode, r.DryRun, r.Selected, r.Written, r.Skipped, r.Transitioned, r.Failed); err != nil {
		return errors.Wrap(err, "write summary")
	}
	return nil
}
