package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/sqlite"
)

var (
	ErrNotFound      = errors.NewSentinel("case not found")
	ErrAlreadyExists = errors.NewSentinel("case already exists")
)

// timeLayout has a fixed width so that stored timestamps sort lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type CaseRepository struct {
	dbs    *sqlite.Database
	logger *slog.Logger
	now    func() time.Time
}

func NewCaseRepository(dbs *sqlite.Database, logger *slog.Logger) *CaseRepository {
	return &CaseRepository{
		dbs:    dbs,
		logger: logger.With("source", "CaseRepository"),
		now:    time.Now,
	}
}

type caseRow struct {
	ID        string `db:"id"`
	Status    string `db:"status"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

type iterationRow struct {
	Idx              int            `db:"idx"`
	Vignette         string         `db:"vignette"`
	DecisionMaker    string         `db:"decision_maker"`
	Choice1          string         `db:"choice_1"`
	Choice2          string         `db:"choice_2"`
	ValueTags        string         `db:"value_tags"`
	Provenance       string         `db:"provenance"`
	ReviewerFeedback sql.NullString `db:"reviewer_feedback"`
	Annotations      sql.NullString `db:"annotations"`
	CreatedAt        string         `db:"created_at"`
}

// Create stores a new case with initial as its first iteration and returns the assigned case id.
// New cases start in status drafted.
func (r *CaseRepository) Create(ctx context.Context, initial models.Iteration) (string, error) {
	id := uuid.NewString()
	if err := r.CreateWithID(ctx, id, initial); err != nil {
		return "", err
	}
	return id, nil
}

// CreateWithID is Create for records that already carry an identity, such as cases produced by the generation
// workflows. It fails with ErrAlreadyExists when the id is taken.
func (r *CaseRepository) CreateWithID(ctx context.Context, id string, initial models.Iteration) error {
	if id == "" {
		return errors.New("empty case id")
	}
	if err := initial.Tags.Check(); err != nil {
		return errors.Wrap(err, "check value tags", slog.String("case_id", id))
	}
	now := r.now().UTC()
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM cases WHERE id = ?)`, id); err != nil {
			return errors.Wrap(err, "check case existence")
		}
		if exists {
			return errors.Wrap(ErrAlreadyExists, "create case", slog.String("case_id", id))
		}
		stmt := `INSERT INTO cases (id, status, created_at, updated_at) VALUES (:id, :status, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, stmt, caseRow{
			ID:        id,
			Status:    string(models.StatusDrafted),
			CreatedAt: now.Format(timeLayout),
			UpdatedAt: now.Format(timeLayout),
		}); err != nil {
			return errors.Wrap(err, "insert case")
		}
		if _, err := r.insertIteration(ctx, tx, id, initial, now); err != nil {
			return errors.Wrap(err, "insert first iteration")
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "create case", slog.String("case_id", id))
	}
	r.logger.LogAttrs(ctx, slog.LevelDebug, "created case", slog.String("case_id", id))
	return nil
}

// Get returns the case with its full iteration history. It fails with ErrNotFound for unknown ids.
func (r *CaseRepository) Get(ctx context.Context, id string) (*models.Case, error) {
	c, err := r.load(ctx, r.dbs.ReadOnly, id)
	if err != nil {
		return nil, errors.Wrap(err, "get case", slog.String("case_id", id))
	}
	return c, nil
}

// List yields the cases whose status is one of statuses, or all cases when statuses is empty, in creation order.
//
// The matching ids are read up front and each case is loaded only when the consumer asks for it, so callers may
// mutate the yielded cases while iterating.
func (r *CaseRepository) List(ctx context.Context, statuses ...models.Status) iter.Seq2[*models.Case, error] {
	return func(yield func(*models.Case, error) bool) {
		ids, err := r.listIDs(ctx, statuses)
		if err != nil {
			yield(nil, errors.Wrap(err, "list case ids"))
			return
		}
		for _, id := range ids {
			if err = ctx.Err(); err != nil {
				yield(nil, errors.Wrap(err, "list cases"))
				return
			}
			c, loadErr := r.load(ctx, r.dbs.ReadOnly, id)
			if errors.Is(loadErr, ErrNotFound) {
				continue
			}
			if loadErr != nil {
				loadErr = errors.Wrap(loadErr, "load listed case", slog.String("case_id", id))
			}
			if !yield(c, loadErr) || loadErr != nil {
				return
			}
		}
	}
}

func (r *CaseRepository) listIDs(ctx context.Context, statuses []models.Status) ([]string, error) {
	var (
		ids   []string
		query = `SELECT id FROM cases ORDER BY created_at, seq`
		args  []any
		err   error
	)
	if len(statuses) > 0 {
		if query, args, err = sqlx.In(`SELECT id FROM cases WHERE status IN (?) ORDER BY created_at, seq`,
			statuses); err != nil {
			return nil, errors.Wrap(err, "expand status filter")
		}
	}
	if err = r.dbs.ReadOnly.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, errors.Wrap(err, "select case ids")
	}
	return ids, nil
}

// SetStatus moves the case to status if the lifecycle graph allows it and fails with models.ErrInvalidTransition
// otherwise. A failed call leaves the case untouched.
func (r *CaseRepository) SetStatus(ctx context.Context, id string, status models.Status) error {
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := r.status(ctx, tx, id)
		if err != nil {
			return err
		}
		if err = current.CheckTransition(status); err != nil {
			return errors.Wrap(err, "check transition")
		}
		return r.updateStatus(ctx, tx, id, status)
	})
	if err != nil {
		return errors.Wrap(err, "set status", slog.String("case_id", id), slog.String("status", string(status)))
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "changed case status",
		slog.String("case_id", id), slog.String("status", string(status)))
	return nil
}

// Reopen is the administrative reset that moves an approved or rejected case back to tagged. It is the only way out
// of a terminal status.
func (r *CaseRepository) Reopen(ctx context.Context, id string) error {
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := r.status(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.Terminal() {
			return errors.Wrap(models.ErrInvalidTransition, "reopen undecided case",
				slog.String("from", string(current)))
		}
		return r.updateStatus(ctx, tx, id, models.StatusTagged)
	})
	if err != nil {
		return errors.Wrap(err, "reopen case", slog.String("case_id", id))
	}
	r.logger.LogAttrs(ctx, slog.LevelWarn, "reopened decided case", slog.String("case_id", id))
	return nil
}

// AppendIteration atomically appends it to the history of the case and moves the case to newStatus. Either both
// happen or neither does. newStatus may equal the current status unless the case is already decided. The index of the
// new iteration is returned.
func (r *CaseRepository) AppendIteration(
	ctx context.Context,
	id string,
	it models.Iteration,
	newStatus models.Status,
) (int, error) {
	var idx int
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := r.status(ctx, tx, id)
		if err != nil {
			return err
		}
		if err = checkAppend(current, newStatus); err != nil {
			return err
		}
		if idx, err = r.insertIteration(ctx, tx, id, it, r.now().UTC()); err != nil {
			return err
		}
		return r.updateStatus(ctx, tx, id, newStatus)
	})
	if err != nil {
		return 0, errors.Wrap(err, "append iteration",
			slog.String("case_id", id), slog.String("status", string(newStatus)))
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "appended iteration",
		slog.String("case_id", id),
		slog.Int("index", idx),
		slog.String("provenance", string(it.Provenance)),
		slog.String("status", string(newStatus)))
	return idx, nil
}

// ImportIteration is AppendIteration plus the import record in the same transaction, so that a crash can never leave
// an applied row without its duplicate guard. A tagged case passes through under_review on the way to newStatus
// because an imported row has by definition been under review on the external surface. When reopen is set, a decided
// case goes through the administrative reset within the same transaction.
func (r *CaseRepository) ImportIteration(
	ctx context.Context,
	record models.ImportRecord,
	it models.Iteration,
	newStatus models.Status,
	reopen bool,
) (int, error) {
	var (
		idx      int
		reopened bool
	)
	id := record.CaseID
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if reopened, err = r.prepare(ctx, tx, id, newStatus, reopen); err != nil {
			return err
		}
		if idx, err = r.insertIteration(ctx, tx, id, it, r.now().UTC()); err != nil {
			return err
		}
		if err = r.updateStatus(ctx, tx, id, newStatus); err != nil {
			return err
		}
		return r.insertImportRecord(ctx, tx, record)
	})
	if err != nil {
		return 0, errors.Wrap(err, "import iteration",
			slog.String("case_id", id), slog.String("status", string(newStatus)))
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "imported iteration",
		slog.String("case_id", id),
		slog.Int("index", idx),
		slog.String("outcome", string(record.Outcome)),
		slog.String("status", string(newStatus)),
		slog.Bool("reopened", reopened))
	return idx, nil
}

// Resolve applies a reviewer verdict in one transaction. It appends edited when it is not nil and moves the case to
// newStatus, passing a tagged case through under_review. When reopen is set, a decided case goes through the
// administrative reset first; otherwise resolving it fails with models.ErrInvalidTransition. The index of the
// appended iteration is returned, or -1 when edited is nil.
func (r *CaseRepository) Resolve(
	ctx context.Context,
	id string,
	edited *models.Iteration,
	newStatus models.Status,
	reopen bool,
) (int, error) {
	var (
		idx      = -1
		reopened bool
	)
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if reopened, err = r.prepare(ctx, tx, id, newStatus, reopen); err != nil {
			return err
		}
		if edited != nil {
			if idx, err = r.insertIteration(ctx, tx, id, *edited, r.now().UTC()); err != nil {
				return err
			}
		}
		return r.updateStatus(ctx, tx, id, newStatus)
	})
	if err != nil {
		return 0, errors.Wrap(err, "resolve case",
			slog.String("case_id", id), slog.String("status", string(newStatus)))
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "resolved case",
		slog.String("case_id", id),
		slog.Int("index", idx),
		slog.String("status", string(newStatus)),
		slog.Bool("reopened", reopened))
	return idx, nil
}

// prepare checks inside tx that the case may move to next. It reports whether a decided case had to be reopened.
func (r *CaseRepository) prepare(
	ctx context.Context,
	tx *sqlx.Tx,
	id string,
	next models.Status,
	reopen bool,
) (bool, error) {
	current, err := r.status(ctx, tx, id)
	if err != nil {
		return false, err
	}
	reopened := reopen && current.Terminal()
	if reopened {
		current = models.StatusTagged
	}
	if current == models.StatusTagged && next != models.StatusTagged {
		current = models.StatusUnderReview
	}
	return reopened, checkAppend(current, next)
}

func checkAppend(current, next models.Status) error {
	if current.Terminal() {
		return errors.Wrap(models.ErrInvalidTransition, "append to decided case", slog.String("from", string(current)))
	}
	if current == next {
		return nil
	}
	if err := current.CheckTransition(next); err != nil {
		return errors.Wrap(err, "check transition")
	}
	return nil
}

func (r *CaseRepository) status(ctx context.Context, tx *sqlx.Tx, id string) (models.Status, error) {
	var raw string
	err := tx.GetContext(ctx, &raw, `SELECT status FROM cases WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrap(ErrNotFound, "read status", slog.String("case_id", id))
	}
	if err != nil {
		return "", errors.Wrap(err, "read status")
	}
	status, err := models.ParseStatus(raw)
	if err != nil {
		return "", errors.Wrap(err, "parse stored status")
	}
	return status, nil
}

func (r *CaseRepository) updateStatus(ctx context.Context, tx *sqlx.Tx, id string, status models.Status) error {
	stmt := `UPDATE cases SET status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.ExecContext(ctx, stmt,
		sql.Named("status", string(status)),
		sql.Named("updated_at", r.now().UTC().Format(timeLayout)),
		sql.Named("id", id),
	); err != nil {
		return errors.Wrap(err, "update status")
	}
	return nil
}

func (r *CaseRepository) insertIteration(
	ctx context.Context,
	tx *sqlx.Tx,
	id string,
	it models.Iteration,
	now time.Time,
) (int, error) {
	if err := it.Tags.Check(); err != nil {
		return 0, errors.Wrap(err, "check value tags")
	}
	var idx int
	if err := tx.GetContext(ctx, &idx, `SELECT COALESCE(MAX(idx) + 1, 0) FROM iterations WHERE case_id = ?`,
		id); err != nil {
		return 0, errors.Wrap(err, "next iteration index")
	}
	row, err := encodeIteration(it, idx, now)
	if err != nil {
		return 0, err
	}
	stmt := `INSERT INTO iterations (case_id, idx, vignette, decision_maker, choice_1, choice_2, value_tags, provenance,
                        reviewer_feedback, annotations, created_at)
VALUES (:case_id, :idx, :vignette, :decision_maker, :choice_1, :choice_2, :value_tags, :provenance,
        :reviewer_feedback, :annotations, :created_at)`
	if _, err = tx.NamedExecContext(ctx, stmt, struct {
		CaseID string `db:"case_id"`
		iterationRow
	}{CaseID: id, iterationRow: row}); err != nil {
		return 0, errors.Wrap(err, "insert iteration", slog.Int("index", idx))
	}
	return idx, nil
}

func (r *CaseRepository) load(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Case, error) {
	var row caseRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT id, status, created_at, updated_at FROM cases WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, "read case", slog.String("case_id", id))
	}
	if err != nil {
		return nil, errors.Wrap(err, "read case")
	}
	c := models.Case{ID: row.ID} //nolint:exhaustruct // filled in below.
	if c.Status, err = models.ParseStatus(row.Status); err != nil {
		return nil, errors.Wrap(err, "parse stored status")
	}
	if c.CreatedAt, err = time.Parse(timeLayout, row.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	if c.UpdatedAt, err = time.Parse(timeLayout, row.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "parse updated_at")
	}

	var rows []iterationRow
	if err = sqlx.SelectContext(ctx, q, &rows, `SELECT idx, vignette, decision_maker, choice_1, choice_2, value_tags,
       provenance, reviewer_feedback, annotations, created_at
FROM iterations
WHERE case_id = ?
ORDER BY idx`, id); err != nil {
		return nil, errors.Wrap(err, "select iterations")
	}
	c.Iterations = make([]models.Iteration, 0, len(rows))
	for _, ir := range rows {
		var it models.Iteration
		if it, err = decodeIteration(ir); err != nil {
			return nil, errors.Wrap(err, "decode iteration", slog.Int("index", ir.Idx))
		}
		c.Iterations = append(c.Iterations, it)
	}
	return &c, nil
}

func encodeIteration(it models.Iteration, idx int, now time.Time) (iterationRow, error) {
	tags, err := json.Marshal(it.Tags)
	if err != nil {
		return iterationRow{}, errors.Wrap(err, "marshal value tags")
	}
	row := iterationRow{
		Idx:              idx,
		Vignette:         it.Vignette,
		DecisionMaker:    it.DecisionMaker,
		Choice1:          it.Choice1,
		Choice2:          it.Choice2,
		ValueTags:        string(tags),
		Provenance:       string(it.Provenance),
		ReviewerFeedback: sql.NullString{},
		Annotations:      sql.NullString{},
		CreatedAt:        now.Format(timeLayout),
	}
	if !it.CreatedAt.IsZero() {
		row.CreatedAt = it.CreatedAt.UTC().Format(timeLayout)
	}
	if it.Feedback != nil {
		var feedback []byte
		if feedback, err = json.Marshal(it.Feedback); err != nil {
			return iterationRow{}, errors.Wrap(err, "marshal reviewer feedback")
		}
		row.ReviewerFeedback = sql.NullString{String: string(feedback), Valid: true}
	}
	if len(it.Annotations) > 0 {
		var annotations []byte
		if annotations, err = json.Marshal(it.Annotations); err != nil {
			return iterationRow{}, errors.Wrap(err, "marshal annotations")
		}
		row.Annotations = sql.NullString{String: string(annotations), Valid: true}
	}
	return row, nil
}

func decodeIteration(row iterationRow) (models.Iteration, error) {
	it := models.Iteration{ //nolint:exhaustruct // optional blocks are decoded below.
		Index:         row.Idx,
		Vignette:      row.Vignette,
		DecisionMaker: row.DecisionMaker,
		Choice1:       row.Choice1,
		Choice2:       row.Choice2,
		Provenance:    models.Provenance(row.Provenance),
	}
	var err error
	if err = json.Unmarshal([]byte(row.ValueTags), &it.Tags); err != nil {
		return it, errors.Wrap(err, "unmarshal value tags")
	}
	if it.CreatedAt, err = time.Parse(timeLayout, row.CreatedAt); err != nil {
		return it, errors.Wrap(err, "parse created_at")
	}
	if row.ReviewerFeedback.Valid {
		it.Feedback = &models.ReviewerFeedback{} //nolint:exhaustruct // unmarshalled next.
		if err = json.Unmarshal([]byte(row.ReviewerFeedback.String), it.Feedback); err != nil {
			return it, errors.Wrap(err, "unmarshal reviewer feedback")
		}
	}
	if row.Annotations.Valid {
		if err = json.Unmarshal([]byte(row.Annotations.String), &it.Annotations); err != nil {
			return it, errors.Wrap(err, "unmarshal annotations")
		}
	}
	return it, nil
}

// withTx runs fn in a write transaction and commits when fn succeeds.
func (r *CaseRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.dbs.ReadWrite.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			r.logger.LogAttrs(ctx, slog.LevelError, "failed to rollback transaction",
				errors.SlogError(errors.Wrap(rollbackErr, "rollback")))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}
