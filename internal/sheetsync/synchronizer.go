// Package sheetsync moves cases between the case store and the external review surface.
//
// Export writes the current iteration of every reviewable or decided case as one row. Import reads the rows back,
// validates the value tags, writes the verdict into the row and, depending on the mode, appends a reviewer-import
// iteration. Import is idempotent: every processed row leaves an import record keyed by a hash of its editable
// content, and rows whose hash was already imported are skipped.
package sheetsync

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/metrics"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/sheets"
)

// CaseStore is the part of the case repository the synchronizer needs.
type CaseStore interface {
	Get(ctx context.Context, id string) (*models.Case, error)
	List(ctx context.Context, statuses ...models.Status) iter.Seq2[*models.Case, error]
	SetStatus(ctx context.Context, id string, status models.Status) error
	ImportIteration(
		ctx context.Context,
		record models.ImportRecord,
		it models.Iteration,
		newStatus models.Status,
		reopen bool,
	) (int, error)
	LookupImport(ctx context.Context, caseID, hash string) (models.ImportRecord, bool, error)
	RecordImport(ctx context.Context, record models.ImportRecord) error
}

type Synchronizer struct {
	cases   CaseStore
	surface sheets.Surface
	policy  models.DecisionPolicy
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Synchronizer. m may be nil.
func New(
	cases CaseStore,
	surface sheets.Surface,
	policy models.DecisionPolicy,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Synchronizer {
	return &Synchronizer{
		cases:   cases,
		surface: surface,
		policy:  policy,
		metrics: m,
		logger:  logger.With("source", "Synchronizer"),
		now:     time.Now,
	}
}

// Check reads the sheet and verifies that its header has every structural column. It returns the number of data
// rows. An empty sheet passes, export writes the header.
func (s *Synchronizer) Check(ctx context.Context) (int, error) {
	rows, err := s.surface.GetRows(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "read sheet")
	}
	if len(rows) == 0 || emptyRow(rows[0]) {
		return 0, nil
	}
	if _, err = parseLayout(rows[0]); err != nil {
		return 0, errors.Wrap(err, "parse sheet header")
	}
	return len(rows) - 1, nil
}
