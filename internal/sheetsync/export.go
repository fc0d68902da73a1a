package sheetsync

import (
	"context"
	"log/slog"

	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/logging"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/sheets"
)

type ExportMode string

const (
	// ExportReplace clears the sheet and writes every selected case.
	ExportReplace ExportMode = "replace"
	// ExportAppend adds rows only for cases the sheet does not list yet, keeping reviewer edits in existing rows.
	ExportAppend ExportMode = "append"
)

type ExportOptions struct {
	Mode ExportMode
	// DryRun computes the report without touching the sheet or the case store.
	DryRun bool
}

type exportRow struct {
	record rowRecord
	status models.Status
}

// Export writes cases in status tagged, under_review, approved or rejected to the sheet. Tagged cases that were
// written move to under_review.
func (s *Synchronizer) Export(ctx context.Context, opts ExportOptions) (ExportReport, error) {
	ctx = logging.WithAttrs(ctx, slog.String("mode", string(opts.Mode)), slog.Bool("dry_run", opts.DryRun))
	report := ExportReport{Mode: opts.Mode, DryRun: opts.DryRun} //nolint:exhaustruct // counted below

	var selected []exportRow
	for c, err := range s.cases.List(ctx, models.Exportable...) {
		if err != nil {
			return report, errors.Wrap(err, "list exportable cases")
		}
		record, ok := recordFromCase(c)
		if !ok {
			continue
		}
		selected = append(selected, exportRow{record: record, status: c.Status})
	}
	report.Selected = len(selected)

	var (
		l         layout
		existing  = map[string]bool{}
		hasHeader bool
		err       error
	)
	switch opts.Mode {
	case ExportReplace:
		l, _ = parseLayout(Header)
	case ExportAppend:
		var rows [][]string
		if rows, err = s.surface.GetRows(ctx); err != nil {
			return report, errors.Wrap(err, "read sheet")
		}
		if len(rows) > 0 && !emptyRow(rows[0]) {
			hasHeader = true
			if l, err = parseLayout(rows[0]); err != nil {
				return report, errors.Wrap(err, "parse sheet header")
			}
			for _, row := range rows[1:] {
				if id := l.cell(row, ColCaseID); id != "" {
					existing[id] = true
				}
			}
		} else {
			l, _ = parseLayout(Header)
		}
	default:
		return report, errors.New("unknown export mode", slog.String("mode", string(opts.Mode)))
	}

	var (
		toWrite []exportRow
		values  [][]string
	)
	for _, row := range selected {
		if existing[row.record.CaseID] {
			report.Skipped++
			s.metrics.ExportRow("skipped")
			continue
		}
		existing[row.record.CaseID] = true
		shown := row.status
		if shown == models.StatusTagged {
			shown = models.StatusUnderReview
		}
		toWrite = append(toWrite, row)
		values = append(values, l.encode(row.record, shown))
		report.CaseIDs = append(report.CaseIDs, row.record.CaseID)
	}
	report.Written = len(toWrite)
	if opts.DryRun {
		for _, row := range toWrite {
			if row.status == models.StatusTagged {
				report.Transitioned++
			}
		}
		s.logger.LogAttrs(ctx, slog.LevelInfo, "export dry run",
			slog.Int("selected", report.Selected), slog.Int("would_write", report.Written))
		return report, nil
	}

	if err = s.write(ctx, opts.Mode, hasHeader, values); err != nil {
		report.Written = 0
		return report, err
	}

	for _, row := range toWrite {
		s.metrics.ExportRow("written")
		if row.status != models.StatusTagged {
			continue
		}
		if err = s.cases.SetStatus(ctx, row.record.CaseID, models.StatusUnderReview); err != nil {
			report.Failed++
			s.logger.LogAttrs(ctx, slog.LevelError, "could not move exported case to under_review",
				slog.String("case_id", row.record.CaseID), errors.SlogError(err))
			continue
		}
		report.Transitioned++
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "exported cases",
		slog.Int("written", report.Written),
		slog.Int("skipped", report.Skipped),
		slog.Int("transitioned", report.Transitioned))
	return report, nil
}

func (s *Synchronizer) write(ctx context.Context, mode ExportMode, hasHeader bool, values [][]string) error {
	if mode == ExportAppend && hasHeader {
		if len(values) == 0 {
			return nil
		}
		if err := s.surface.AppendRows(ctx, values); err != nil {
			return errors.Wrap(err, "append rows", slog.Int("rows", len(values)))
		}
		return nil
	}
	if mode == ExportReplace {
		if err := s.surface.Clear(ctx); err != nil {
			return errors.Wrap(err, "clear sheet")
		}
	}
	all := append([][]string{Header}, values...)
	if err := s.surface.SetRanges(ctx, []sheets.Range{{Row: 0, Col: 0, Values: all}}); err != nil {
		return errors.Wrap(err, "write sheet", slog.Int("rows", len(values)))
	}
	return nil
}
