package repositories

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/models"
)

type importRecordRow struct {
	CaseID      string `db:"case_id"`
	ContentHash string `db:"content_hash"`
	Outcome     string `db:"outcome"`
	ImportedAt  string `db:"imported_at"`
}

// LookupImport returns the import record for content with hash, if the case has one.
func (r *CaseRepository) LookupImport(ctx context.Context, caseID, hash string) (models.ImportRecord, bool, error) {
	var rows []importRecordRow
	if err := r.dbs.ReadOnly.SelectContext(ctx, &rows, `SELECT case_id, content_hash, outcome, imported_at
FROM import_records
WHERE case_id = ? AND content_hash = ?`, caseID, hash); err != nil {
		return models.ImportRecord{}, false, errors.Wrap(err, "select import record", slog.String("case_id", caseID))
	}
	if len(rows) == 0 {
		return models.ImportRecord{}, false, nil
	}
	record, err := decodeImportRecord(rows[0])
	if err != nil {
		return models.ImportRecord{}, false, err
	}
	return record, true, nil
}

// RecordImport stores an import record for a row that did not produce an iteration, for example an invalid or
// unchanged row. Recording the same pair twice keeps the first record, except that a forced import replaces an
// invalid one.
func (r *CaseRepository) RecordImport(ctx context.Context, record models.ImportRecord) error {
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := r.status(ctx, tx, record.CaseID); err != nil {
			return err
		}
		return r.insertImportRecord(ctx, tx, record)
	})
	if err != nil {
		return errors.Wrap(err, "record import", slog.String("case_id", record.CaseID))
	}
	return nil
}

// ImportRecords returns the import history of the case, oldest first.
func (r *CaseRepository) ImportRecords(ctx context.Context, caseID string) ([]models.ImportRecord, error) {
	var rows []importRecordRow
	if err := r.dbs.ReadOnly.SelectContext(ctx, &rows, `SELECT case_id, content_hash, outcome, imported_at
FROM import_records
WHERE case_id = ?
ORDER BY imported_at, content_hash`, caseID); err != nil {
		return nil, errors.Wrap(err, "select import records", slog.String("case_id", caseID))
	}
	records := make([]models.ImportRecord, 0, len(rows))
	for _, row := range rows {
		record, err := decodeImportRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func decodeImportRecord(row importRecordRow) (models.ImportRecord, error) {
	importedAt, err := time.Parse(timeLayout, row.ImportedAt)
	if err != nil {
		return models.ImportRecord{}, errors.Wrap(err, "parse imported_at")
	}
	return models.ImportRecord{
		CaseID:      row.CaseID,
		ContentHash: row.ContentHash,
		Outcome:     models.ImportOutcome(row.Outcome),
		ImportedAt:  importedAt,
	}, nil
}

func (r *CaseRepository) insertImportRecord(ctx context.Context, tx *sqlx.Tx, record models.ImportRecord) error {
	importedAt := record.ImportedAt
	if importedAt.IsZero() {
		importedAt = r.now()
	}
	stmt := `INSERT INTO import_records (case_id, content_hash, outcome, imported_at)
VALUES (:case_id, :content_hash, :outcome, :imported_at)
ON CONFLICT (case_id, content_hash) DO UPDATE
SET outcome = excluded.outcome, imported_at = excluded.imported_at
WHERE import_records.outcome = 'invalid' AND excluded.outcome = 'forced'`
	if _, err := tx.NamedExecContext(ctx, stmt, importRecordRow{
		CaseID:      record.CaseID,
		ContentHash: record.ContentHash,
		Outcome:     string(record.Outcome),
		ImportedAt:  importedAt.UTC().Format(timeLayout),
	}); err != nil {
		return errors.Wrap(err, "insert import record")
	}
	return nil
}
