package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-validator/internal/db"
	"github.com/sells-group/provider-validator/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgInsertEvidence = `INSERT INTO evidence (` + evidenceColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	pgGetProvider    = `SELECT ` + providerColumns + ` FROM providers WHERE provider_id = $1`
	pgInsertProvider = `INSERT INTO providers (` + providerColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (provider_id) DO NOTHING`
	pgUpdateProvider = `UPDATE providers SET fields = $1, overall_confidence = $2, validation_status = $3, requires_manual_review = $4, flagged_reason = $5, version = $6, last_run_id = $7, last_validated_at = $8, updated_at = $9 WHERE provider_id = $10 AND version = $11`
	pgUpsertReview   = `INSERT INTO review_queue (id, provider_id, run_id, issue_type, issue_severity, issue_description, affected_fields, conflicting_sources, priority_score, review_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider_id, issue_type) WHERE review_status IN ('pending', 'in_review', 'escalated')
		DO NOTHING
		RETURNING ` + reviewColumns
	pgGetOpenReview = `SELECT ` + reviewColumns + ` FROM review_queue
		WHERE provider_id = $1 AND issue_type = $2 AND review_status IN ('pending', 'in_review', 'escalated')`
	pgUpdateRunMetrics = `UPDATE runs SET providers_processed = providers_processed + $1, providers_succeeded = providers_succeeded + $2, providers_failed = providers_failed + $3, providers_flagged = providers_flagged + $4, providers_scored = providers_scored + $5, confidence_sum = confidence_sum + $6, discrepancies_found = discrepancies_found + $7, fields_updated = fields_updated + $8, evidence_discarded = evidence_discarded + $9, error_count = error_count + $10 WHERE id = $11 AND status = 'running'`
	pgGetRun           = `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the per-provider hot path.
var preparedStatements = map[string]string{
	"get_provider":       pgGetProvider,
	"insert_provider":    pgInsertProvider,
	"update_provider":    pgUpdateProvider,
	"upsert_review":      pgUpsertReview,
	"get_open_review":    pgGetOpenReview,
	"update_run_metrics": pgUpdateRunMetrics,
	"get_run":            pgGetRun,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	provider_id       TEXT NOT NULL,
	field_name        TEXT NOT NULL,
	value             TEXT NOT NULL,
	source_name       TEXT NOT NULL,
	source_weight     DOUBLE PRECISION NOT NULL CHECK (source_weight BETWEEN 0 AND 1),
	extraction_method TEXT NOT NULL DEFAULT '',
	observed_at       TIMESTAMPTZ NOT NULL,
	is_primary_source BOOLEAN NOT NULL DEFAULT false,
	run_id            TEXT NOT NULL DEFAULT '',
	recorded_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_evidence_provider_field ON evidence(provider_id, field_name);

CREATE TABLE IF NOT EXISTS providers (
	provider_id            TEXT PRIMARY KEY,
	fields                 JSONB NOT NULL,
	overall_confidence     DOUBLE PRECISION NOT NULL CHECK (overall_confidence BETWEEN 0 AND 1),
	validation_status      TEXT NOT NULL,
	requires_manual_review BOOLEAN NOT NULL DEFAULT false,
	flagged_reason         TEXT NOT NULL DEFAULT '',
	version                BIGINT NOT NULL,
	last_run_id            TEXT NOT NULL DEFAULT '',
	last_validated_at      TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_providers_status ON providers(validation_status);

CREATE TABLE IF NOT EXISTS review_queue (
	id                  TEXT PRIMARY KEY,
	seq                 BIGSERIAL NOT NULL,
	provider_id         TEXT NOT NULL,
	run_id              TEXT NOT NULL DEFAULT '',
	issue_type          TEXT NOT NULL,
	issue_severity      TEXT NOT NULL,
	issue_description   TEXT NOT NULL DEFAULT '',
	affected_fields     JSONB NOT NULL,
	conflicting_sources JSONB NOT NULL,
	priority_score      INTEGER NOT NULL CHECK (priority_score BETWEEN 0 AND 100),
	review_status       TEXT NOT NULL DEFAULT 'pending',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_review_queue_open
	ON review_queue(provider_id, issue_type)
	WHERE review_status IN ('pending', 'in_review', 'escalated');
CREATE INDEX IF NOT EXISTS idx_review_queue_order ON review_queue(priority_score DESC, created_at, seq);

CREATE TABLE IF NOT EXISTS runs (
	id                  TEXT PRIMARY KEY,
	job_type            TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	config              JSONB NOT NULL,
	provider_ids        JSONB NOT NULL,
	triggered_by        TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at          TIMESTAMPTZ,
	ended_at            TIMESTAMPTZ,
	providers_processed BIGINT NOT NULL DEFAULT 0,
	providers_succeeded BIGINT NOT NULL DEFAULT 0,
	providers_failed    BIGINT NOT NULL DEFAULT 0,
	providers_flagged   BIGINT NOT NULL DEFAULT 0,
	providers_scored    BIGINT NOT NULL DEFAULT 0,
	confidence_sum      DOUBLE PRECISION NOT NULL DEFAULT 0,
	discrepancies_found BIGINT NOT NULL DEFAULT 0,
	fields_updated      BIGINT NOT NULL DEFAULT 0,
	evidence_discarded  BIGINT NOT NULL DEFAULT 0,
	error_count         BIGINT NOT NULL DEFAULT 0,
	error               TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS run_errors (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	provider_id TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL,
	message     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_run_errors_run_id ON run_errors(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Evidence

func (s *PostgresStore) PutEvidence(ctx context.Context, e model.EvidenceTuple) (model.EvidenceTuple, error) {
	e, err := prepareEvidence(e)
	if err != nil {
		return e, err
	}
	if _, err := s.pool.Exec(ctx, pgInsertEvidence, evidenceArgs(e)...); err != nil {
		return e, eris.Wrapf(err, "postgres: insert evidence for %s/%s", e.ProviderID, e.FieldName)
	}
	return e, nil
}

// PutEvidenceBatch loads tuples with COPY. Every tuple is validated first so
// a bad row rejects the batch before anything is written.
func (s *PostgresStore) PutEvidenceBatch(ctx context.Context, batch []model.EvidenceTuple) (int64, error) {
	rows := make([][]any, 0, len(batch))
	for i, e := range batch {
		p, err := prepareEvidence(e)
		if err != nil {
			return 0, rowError(err, i)
		}
		rows = append(rows, evidenceArgs(p))
	}
	return db.CopyFrom(ctx, s.pool, "evidence", strings.Split(evidenceColumns, ", "), rows)
}

func (s *PostgresStore) ListEvidence(ctx context.Context, providerID, field string) ([]model.EvidenceTuple, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE provider_id = $1`
	args := []any{providerID}
	if field != "" {
		query += ` AND field_name = $2`
		args = append(args, field)
	}
	query += ` ORDER BY field_name, observed_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list evidence %s/%s", providerID, field)
	}
	defer rows.Close()

	var out []model.EvidenceTuple
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list evidence iterate")
}

func (s *PostgresStore) ListEvidenceFields(ctx context.Context, providerID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT field_name FROM evidence WHERE provider_id = $1 ORDER BY field_name`, providerID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list evidence fields %s", providerID)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field name")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list evidence fields iterate")
}

// Providers

func (s *PostgresStore) GetProvider(ctx context.Context, providerID string) (*model.ProviderRecord, error) {
	p, err := scanProvider(s.pool.QueryRow(ctx, pgGetProvider, providerID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get provider %s", providerID)
	}
	return p, nil
}

// PutProvider writes rec and its review entries in one transaction. The
// write only lands if the stored version still equals expectedVersion
// (0 means the provider must not exist yet).
func (s *PostgresStore) PutProvider(ctx context.Context, rec model.ProviderRecord, expectedVersion int64, reviews ...model.ReviewQueueEntry) (int64, error) {
	fieldsJSON, err := checkRecord(rec)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: put provider %s", rec.ProviderID)
	}
	now := time.Now().UTC()
	next := expectedVersion + 1

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin put provider")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var n int64
	if expectedVersion == 0 {
		tag, err := tx.Exec(ctx, pgInsertProvider,
			rec.ProviderID, fieldsJSON, rec.OverallConfidence, string(rec.ValidationStatus),
			rec.RequiresManualReview, rec.FlaggedReason, next, rec.LastRunID, rec.LastValidatedAt.UTC(), now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: insert provider %s", rec.ProviderID)
		}
		n = tag.RowsAffected()
	} else {
		tag, err := tx.Exec(ctx, pgUpdateProvider,
			fieldsJSON, rec.OverallConfidence, string(rec.ValidationStatus),
			rec.RequiresManualReview, rec.FlaggedReason, next, rec.LastRunID,
			rec.LastValidatedAt.UTC(), now, rec.ProviderID, expectedVersion,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: update provider %s", rec.ProviderID)
		}
		n = tag.RowsAffected()
	}
	if n == 0 {
		return 0, eris.Wrapf(ErrConflict, "provider %s: expected version %d", rec.ProviderID, expectedVersion)
	}

	for _, r := range reviews {
		if _, err := upsertReviewPG(ctx, tx, r, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "postgres: commit provider %s", rec.ProviderID)
	}
	committed = true
	return next, nil
}

// Review queue

type pgQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// upsertReviewPG inserts an entry or returns the provider's open entry of
// the same issue type untouched.
func upsertReviewPG(ctx context.Context, q pgQueryer, e model.ReviewQueueEntry, now time.Time) (model.ReviewQueueEntry, error) {
	e = prepareReview(e, now)
	if e.ReviewStatus != model.ReviewPending {
		return e, eris.Errorf("postgres: new review entry for %s must be pending", e.ProviderID)
	}
	out, err := scanReview(q.QueryRow(ctx, pgUpsertReview,
		e.ID, e.ProviderID, e.RunID, string(e.IssueType), string(e.IssueSeverity), e.IssueDescription,
		marshalStrings(e.AffectedFields), marshalStrings(e.ConflictingSources),
		e.PriorityScore, string(e.ReviewStatus), e.CreatedAt, e.UpdatedAt,
	))
	if isNoRows(err) {
		out, err = scanReview(q.QueryRow(ctx, pgGetOpenReview, e.ProviderID, string(e.IssueType)))
	}
	if err != nil {
		return e, eris.Wrapf(err, "postgres: enqueue review for %s", e.ProviderID)
	}
	return out, nil
}

func (s *PostgresStore) EnqueueReview(ctx context.Context, entry model.ReviewQueueEntry) (model.ReviewQueueEntry, error) {
	return upsertReviewPG(ctx, s.pool, entry, time.Now().UTC())
}

func (s *PostgresStore) GetReview(ctx context.Context, id string) (*model.ReviewQueueEntry, error) {
	r, err := scanReview(s.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM review_queue WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "review %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get review %s", id)
	}
	return &r, nil
}

func (s *PostgresStore) ListReviewQueue(ctx context.Context, filter ReviewFilter) ([]model.ReviewQueueEntry, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND review_status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.OpenOnly {
		query += ` AND review_status IN ('pending', 'in_review', 'escalated')`
	}
	if filter.ProviderID != "" {
		query += fmt.Sprintf(` AND provider_id = $%d`, argIdx)
		args = append(args, filter.ProviderID)
		argIdx++
	}
	query += ` ORDER BY priority_score DESC, created_at ASC, seq ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review queue")
	}
	defer rows.Close()

	var out []model.ReviewQueueEntry
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list review queue iterate")
}

func (s *PostgresStore) TransitionReview(ctx context.Context, id string, to model.ReviewStatus) (*model.ReviewQueueEntry, error) {
	cur, err := s.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := model.CheckReviewTransition(cur.ReviewStatus, to); err != nil {
		return nil, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET review_status = $1, updated_at = $2 WHERE id = $3 AND review_status = $4`,
		string(to), time.Now().UTC(), id, string(cur.ReviewStatus),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: transition review %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrConflict, "review %s changed concurrently", id)
	}
	return s.GetReview(ctx, id)
}

// Runs

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.ValidationRun) error {
	if err := prepareRun(run, time.Now().UTC()); err != nil {
		return err
	}
	cfgJSON, err := marshalJSON(run.Config)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, job_type, status, config, provider_ids, triggered_by, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.JobType, string(run.Status), cfgJSON, marshalStrings(run.ProviderIDs), run.TriggeredBy, run.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) TransitionRun(ctx context.Context, runID string, from, to model.RunStatus, at time.Time, errMsg string) error {
	if err := model.CheckRunTransition(from, to); err != nil {
		return err
	}
	started, ended := runTimes(to, at)
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, started_at = COALESCE($2, started_at), ended_at = COALESCE($3, ended_at), error = CASE WHEN $4 = '' THEN error ELSE $4 END WHERE id = $5 AND status = $6`,
		string(to), started, ended, errMsg, runID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "run %s is not %s", runID, from)
	}
	return nil
}

func (s *PostgresStore) UpdateRunMetrics(ctx context.Context, runID string, delta model.MetricsDelta) error {
	tag, err := s.pool.Exec(ctx, pgUpdateRunMetrics, append(metricsArgs(delta), runID)...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run metrics %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "run %s is not running", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.ValidationRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, pgGetRun, runID))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ValidationRun, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ValidationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AppendRunError(ctx context.Context, e model.RunError) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_errors (run_id, provider_id, category, message, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.RunID, e.ProviderID, string(e.Category), e.Message, e.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: append run error %s", e.RunID)
}

func (s *PostgresStore) ListRunErrors(ctx context.Context, runID string) ([]model.RunError, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runErrorColumns+` FROM run_errors WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list run errors %s", runID)
	}
	defer rows.Close()

	var out []model.RunError
	for rows.Next() {
		e, err := scanRunError(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run error")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list run errors iterate")
}
