package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/provider-validator/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Writes are serialized through a single connection so the optimistic
// version checks never race inside SQLite itself.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id                TEXT PRIMARY KEY,
	provider_id       TEXT NOT NULL,
	field_name        TEXT NOT NULL,
	value             TEXT NOT NULL,
	source_name       TEXT NOT NULL,
	source_weight     REAL NOT NULL,
	extraction_method TEXT NOT NULL DEFAULT '',
	observed_at       DATETIME NOT NULL,
	is_primary_source INTEGER NOT NULL DEFAULT 0,
	run_id            TEXT NOT NULL DEFAULT '',
	recorded_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_evidence_provider_field ON evidence(provider_id, field_name);

CREATE TABLE IF NOT EXISTS providers (
	provider_id            TEXT PRIMARY KEY,
	fields                 TEXT NOT NULL,
	overall_confidence     REAL NOT NULL,
	validation_status      TEXT NOT NULL,
	requires_manual_review INTEGER NOT NULL DEFAULT 0,
	flagged_reason         TEXT NOT NULL DEFAULT '',
	version                INTEGER NOT NULL,
	last_run_id            TEXT NOT NULL DEFAULT '',
	last_validated_at      DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_providers_status ON providers(validation_status);

CREATE TABLE IF NOT EXISTS review_queue (
	seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
	id                  TEXT NOT NULL UNIQUE,
	provider_id         TEXT NOT NULL,
	run_id              TEXT NOT NULL DEFAULT '',
	issue_type          TEXT NOT NULL,
	issue_severity      TEXT NOT NULL,
	issue_description   TEXT NOT NULL DEFAULT '',
	affected_fields     TEXT NOT NULL,
	conflicting_sources TEXT NOT NULL,
	priority_score      INTEGER NOT NULL CHECK (priority_score BETWEEN 0 AND 100),
	review_status       TEXT NOT NULL DEFAULT 'pending',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_review_queue_open
	ON review_queue(provider_id, issue_type)
	WHERE review_status IN ('pending', 'in_review', 'escalated');
CREATE INDEX IF NOT EXISTS idx_review_queue_order ON review_queue(priority_score DESC, created_at, seq);

CREATE TABLE IF NOT EXISTS runs (
	id                  TEXT PRIMARY KEY,
	job_type            TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	config              TEXT NOT NULL,
	provider_ids        TEXT NOT NULL,
	triggered_by        TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	started_at          DATETIME,
	ended_at            DATETIME,
	providers_processed INTEGER NOT NULL DEFAULT 0,
	providers_succeeded INTEGER NOT NULL DEFAULT 0,
	providers_failed    INTEGER NOT NULL DEFAULT 0,
	providers_flagged   INTEGER NOT NULL DEFAULT 0,
	providers_scored    INTEGER NOT NULL DEFAULT 0,
	confidence_sum      REAL NOT NULL DEFAULT 0,
	discrepancies_found INTEGER NOT NULL DEFAULT 0,
	fields_updated      INTEGER NOT NULL DEFAULT 0,
	evidence_discarded  INTEGER NOT NULL DEFAULT 0,
	error_count         INTEGER NOT NULL DEFAULT 0,
	error               TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS run_errors (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	provider_id TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL,
	message     TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_errors_run_id ON run_errors(run_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Evidence

func (s *SQLiteStore) PutEvidence(ctx context.Context, e model.EvidenceTuple) (model.EvidenceTuple, error) {
	e, err := prepareEvidence(e)
	if err != nil {
		return e, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evidence (`+evidenceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evidenceArgs(e)...,
	)
	if err != nil {
		return e, eris.Wrapf(err, "sqlite: insert evidence for %s/%s", e.ProviderID, e.FieldName)
	}
	return e, nil
}

func (s *SQLiteStore) PutEvidenceBatch(ctx context.Context, batch []model.EvidenceTuple) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	prepared := make([]model.EvidenceTuple, 0, len(batch))
	for i, e := range batch {
		p, err := prepareEvidence(e)
		if err != nil {
			return 0, rowError(err, i)
		}
		prepared = append(prepared, p)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin evidence batch")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO evidence (`+evidenceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare evidence insert")
	}
	defer stmt.Close()

	for _, e := range prepared {
		if _, err := stmt.ExecContext(ctx, evidenceArgs(e)...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert evidence %s", e.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit evidence batch")
	}
	return int64(len(prepared)), nil
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, providerID, field string) ([]model.EvidenceTuple, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE provider_id = ?`
	args := []any{providerID}
	if field != "" {
		query += ` AND field_name = ?`
		args = append(args, field)
	}
	query += ` ORDER BY field_name, observed_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list evidence %s/%s", providerID, field)
	}
	defer rows.Close()

	var out []model.EvidenceTuple
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list evidence iterate")
}

func (s *SQLiteStore) ListEvidenceFields(ctx context.Context, providerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT field_name FROM evidence WHERE provider_id = ? ORDER BY field_name`, providerID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list evidence fields %s", providerID)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan field name")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list evidence fields iterate")
}

// Providers

func (s *SQLiteStore) GetProvider(ctx context.Context, providerID string) (*model.ProviderRecord, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE provider_id = ?`, providerID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get provider %s", providerID)
	}
	return p, nil
}

func (s *SQLiteStore) PutProvider(ctx context.Context, rec model.ProviderRecord, expectedVersion int64, reviews ...model.ReviewQueueEntry) (int64, error) {
	fieldsJSON, err := checkRecord(rec)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: put provider %s", rec.ProviderID)
	}
	now := time.Now().UTC()
	next := expectedVersion + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin put provider")
	}
	defer tx.Rollback() //nolint:errcheck

	var res sql.Result
	if expectedVersion == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO providers (`+providerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (provider_id) DO NOTHING`,
			rec.ProviderID, string(fieldsJSON), rec.OverallConfidence, string(rec.ValidationStatus),
			rec.RequiresManualReview, rec.FlaggedReason, next, rec.LastRunID, rec.LastValidatedAt.UTC(), now,
		)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE providers SET fields = ?, overall_confidence = ?, validation_status = ?,
				requires_manual_review = ?, flagged_reason = ?, version = ?, last_run_id = ?,
				last_validated_at = ?, updated_at = ?
			WHERE provider_id = ? AND version = ?`,
			string(fieldsJSON), rec.OverallConfidence, string(rec.ValidationStatus),
			rec.RequiresManualReview, rec.FlaggedReason, next, rec.LastRunID,
			rec.LastValidatedAt.UTC(), now, rec.ProviderID, expectedVersion,
		)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: write provider %s", rec.ProviderID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return 0, eris.Wrapf(ErrConflict, "provider %s: expected version %d", rec.ProviderID, expectedVersion)
	}

	for _, r := range reviews {
		if _, err := s.upsertReview(ctx, tx, r, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: commit provider %s", rec.ProviderID)
	}
	return next, nil
}

// Review queue

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// upsertReview inserts an entry unless the provider already has an open
// entry of the same issue type, in which case the open entry is returned
// unchanged. Open entries belong to the review workflow once created.
func (s *SQLiteStore) upsertReview(ctx context.Context, q sqlQueryer, e model.ReviewQueueEntry, now time.Time) (model.ReviewQueueEntry, error) {
	e = prepareReview(e, now)
	if e.ReviewStatus != model.ReviewPending {
		return e, eris.Errorf("sqlite: new review entry for %s must be pending", e.ProviderID)
	}
	out, err := scanReview(q.QueryRowContext(ctx,
		`INSERT INTO review_queue (id, provider_id, run_id, issue_type, issue_severity, issue_description,
			affected_fields, conflicting_sources, priority_score, review_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_id, issue_type) WHERE review_status IN ('pending', 'in_review', 'escalated')
		DO NOTHING
		RETURNING `+reviewColumns,
		e.ID, e.ProviderID, e.RunID, string(e.IssueType), string(e.IssueSeverity), e.IssueDescription,
		string(marshalStrings(e.AffectedFields)), string(marshalStrings(e.ConflictingSources)),
		e.PriorityScore, string(e.ReviewStatus), e.CreatedAt, e.UpdatedAt,
	))
	if isNoRows(err) {
		out, err = scanReview(q.QueryRowContext(ctx,
			`SELECT `+reviewColumns+` FROM review_queue
			WHERE provider_id = ? AND issue_type = ? AND review_status IN ('pending', 'in_review', 'escalated')`,
			e.ProviderID, string(e.IssueType),
		))
	}
	if err != nil {
		return e, eris.Wrapf(err, "sqlite: enqueue review for %s", e.ProviderID)
	}
	return out, nil
}

func (s *SQLiteStore) EnqueueReview(ctx context.Context, entry model.ReviewQueueEntry) (model.ReviewQueueEntry, error) {
	return s.upsertReview(ctx, s.db, entry, time.Now().UTC())
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*model.ReviewQueueEntry, error) {
	r, err := scanReview(s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM review_queue WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "review %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get review %s", id)
	}
	return &r, nil
}

func (s *SQLiteStore) ListReviewQueue(ctx context.Context, filter ReviewFilter) ([]model.ReviewQueueEntry, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND review_status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OpenOnly {
		query += ` AND review_status IN ('pending', 'in_review', 'escalated')`
	}
	if filter.ProviderID != "" {
		query += ` AND provider_id = ?`
		args = append(args, filter.ProviderID)
	}
	query += ` ORDER BY priority_score DESC, created_at ASC, seq ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review queue")
	}
	defer rows.Close()

	var out []model.ReviewQueueEntry
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list review queue iterate")
}

func (s *SQLiteStore) TransitionReview(ctx context.Context, id string, to model.ReviewStatus) (*model.ReviewQueueEntry, error) {
	cur, err := s.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := model.CheckReviewTransition(cur.ReviewStatus, to); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_queue SET review_status = ?, updated_at = ? WHERE id = ? AND review_status = ?`,
		string(to), time.Now().UTC(), id, string(cur.ReviewStatus),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: transition review %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, eris.Wrapf(ErrConflict, "review %s changed concurrently", id)
	}
	return s.GetReview(ctx, id)
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.ValidationRun) error {
	if err := prepareRun(run, time.Now().UTC()); err != nil {
		return err
	}
	cfgJSON, err := jsonText(run.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, job_type, status, config, provider_ids, triggered_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobType, string(run.Status), cfgJSON, string(marshalStrings(run.ProviderIDs)),
		run.TriggeredBy, run.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) TransitionRun(ctx context.Context, runID string, from, to model.RunStatus, at time.Time, errMsg string) error {
	if err := model.CheckRunTransition(from, to); err != nil {
		return err
	}
	started, ended := runTimes(to, at)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, started_at = COALESCE(?, started_at), ended_at = COALESCE(?, ended_at),
			error = CASE WHEN ? = '' THEN error ELSE ? END
		WHERE id = ? AND status = ?`,
		string(to), started, ended, errMsg, errMsg, runID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrConflict, "run %s is not %s", runID, from)
	}
	return nil
}

func (s *SQLiteStore) UpdateRunMetrics(ctx context.Context, runID string, delta model.MetricsDelta) error {
	args := append(metricsArgs(delta), runID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET
			providers_processed = providers_processed + ?,
			providers_succeeded = providers_succeeded + ?,
			providers_failed = providers_failed + ?,
			providers_flagged = providers_flagged + ?,
			providers_scored = providers_scored + ?,
			confidence_sum = confidence_sum + ?,
			discrepancies_found = discrepancies_found + ?,
			fields_updated = fields_updated + ?,
			evidence_discarded = evidence_discarded + ?,
			error_count = error_count + ?
		WHERE id = ? AND status = 'running'`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run metrics %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrConflict, "run %s is not running", runID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.ValidationRun, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ValidationRun, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ValidationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) AppendRunError(ctx context.Context, e model.RunError) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_errors (run_id, provider_id, category, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.RunID, e.ProviderID, string(e.Category), e.Message, e.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append run error %s", e.RunID)
}

func (s *SQLiteStore) ListRunErrors(ctx context.Context, runID string) ([]model.RunError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runErrorColumns+` FROM run_errors WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list run errors %s", runID)
	}
	defer rows.Close()

	var out []model.RunError
	for rows.Next() {
		e, err := scanRunError(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run error")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list run errors iterate")
}

func jsonText(v any) (string, error) {
	b, err := marshalJSON(v)
	return string(b), err
}
