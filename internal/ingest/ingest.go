// Package ingest loads case records produced by the generation workflows into the case store.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/models"
)

var ErrInvalidRecord = errors.NewSentinel("invalid case record")

// Record is the exchange form of a case. An empty CaseID lets the store assign one.
type Record struct {
	CaseID     string             `json:"case_id"`
	Iterations []models.Iteration `json:"iterations"`
}

// Store is the part of the case repository ingestion writes to.
type Store interface {
	Create(ctx context.Context, initial models.Iteration) (string, error)
	CreateWithID(ctx context.Context, id string, initial models.Iteration) error
	AppendIteration(ctx context.Context, id string, it models.Iteration, newStatus models.Status) (int, error)
	SetStatus(ctx context.Context, id string, status models.Status) error
}

type Ingester struct {
	cases  Store
	logger *slog.Logger
}

func New(cases Store, logger *slog.Logger) *Ingester {
	return &Ingester{cases: cases, logger: logger.With("source", "Ingester")}
}

// Decode reads either a single record or a JSON array of records.
func Decode(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read records")
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var records []Record
		if err = json.Unmarshal(data, &records); err != nil {
			return nil, errors.Wrap(errors.Join(ErrInvalidRecord, err), "decode records")
		}
		return records, nil
	}
	var record Record
	if err = json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(errors.Join(ErrInvalidRecord, err), "decode record")
	}
	return []Record{record}, nil
}

// Check verifies that the record has iterations and that every tag is well formed. It does not run the value
// conflict rules: generation output is allowed to be invalid and gets reviewed like anything else.
func (r Record) Check() error {
	if len(r.Iterations) == 0 {
		return errors.Wrap(ErrInvalidRecord, "no iterations", slog.String("case_id", r.CaseID))
	}
	for i, it := range r.Iterations {
		if err := it.Tags.Check(); err != nil {
			return errors.Wrap(errors.Join(ErrInvalidRecord, err), "check value tags",
				slog.String("case_id", r.CaseID), slog.Int("iteration", i))
		}
	}
	return nil
}

// Ingest stores the record as a new case and returns its id. The case ends in status tagged when any iteration
// came out of value tagging and in drafted otherwise.
func (in *Ingester) Ingest(ctx context.Context, record Record) (string, error) {
	if err := record.Check(); err != nil {
		return "", err
	}
	id := record.CaseID
	var err error
	if id == "" {
		id, err = in.cases.Create(ctx, record.Iterations[0])
	} else {
		err = in.cases.CreateWithID(ctx, id, record.Iterations[0])
	}
	if err != nil {
		return "", errors.Wrap(err, "create case")
	}
	tagged := record.Iterations[0].Provenance == models.ProvenanceTagValues
	for _, it := range record.Iterations[1:] {
		if _, err = in.cases.AppendIteration(ctx, id, it, models.StatusDrafted); err != nil {
			return id, errors.Wrap(err, "append iteration", slog.String("case_id", id))
		}
		tagged = tagged || it.Provenance == models.ProvenanceTagValues
	}
	if tagged {
		if err = in.cases.SetStatus(ctx, id, models.StatusTagged); err != nil {
			return id, errors.Wrap(err, "mark case tagged", slog.String("case_id", id))
		}
	}
	in.logger.LogAttrs(ctx, slog.LevelInfo, "ingested case",
		slog.String("case_id", id), slog.Int("iterations", len(record.Iterations)), slog.Bool("tagged", tagged))
	return id, nil
}

// FileResult reports the ingestion of one record of a file.
type FileResult struct {
	CaseID string
	Err    error
}

// IngestFile ingests every record of the file at path. A file that cannot be decoded, or holds a malformed record,
// is rejected as a whole before anything is written. Failures of single records, such as an id that already
// exists, are reported per record.
func (in *Ingester) IngestFile(ctx context.Context, path string) ([]FileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open case file", slog.String("path", path))
	}
	defer func() {
		_ = f.Close()
	}()
	records, err := Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "decode case file", slog.String("path", path))
	}
	for _, record := range records {
		if err = record.Check(); err != nil {
			return nil, errors.Wrap(err, "check case file", slog.String("path", path))
		}
	}
	results := make([]FileResult, 0, len(records))
	for _, record := range records {
		id, ingestErr := in.Ingest(ctx, record)
		if id == "" {
			id = record.CaseID
		}
		results = append(results, FileResult{CaseID: id, Err: ingestErr})
	}
	return results, nil
}
