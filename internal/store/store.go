// Package store persists evidence, provider records, the review queue, and
// validation runs. SQLite backs local use; Postgres backs shared deployments.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-validator/internal/model"
)

var (
	// ErrNotFound is returned when a run or review entry does not exist.
	ErrNotFound = eris.New("not found")
	// ErrConflict is returned when a conditional write loses a race: the
	// provider version or run status no longer matches the caller's view.
	ErrConflict = eris.New("write conflict")
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// ReviewFilter specifies criteria for reading the review queue.
type ReviewFilter struct {
	Status     model.ReviewStatus `json:"status,omitempty"`
	ProviderID string             `json:"provider_id,omitempty"`
	OpenOnly   bool               `json:"open_only,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Offset     int                `json:"offset,omitempty"`
}

// Store is the evidence store adapter consumed by the engine and the CLI.
// Every method honors the caller's context deadline.
type Store interface {
	// Evidence
	PutEvidence(ctx context.Context, e model.EvidenceTuple) (model.EvidenceTuple, error)
	PutEvidenceBatch(ctx context.Context, batch []model.EvidenceTuple) (int64, error)
	ListEvidence(ctx context.Context, providerID, field string) ([]model.EvidenceTuple, error)
	ListEvidenceFields(ctx context.Context, providerID string) ([]string, error)

	// Providers
	GetProvider(ctx context.Context, providerID string) (*model.ProviderRecord, error)
	PutProvider(ctx context.Context, rec model.ProviderRecord, expectedVersion int64, reviews ...model.ReviewQueueEntry) (int64, error)

	// Review queue
	EnqueueReview(ctx context.Context, entry model.ReviewQueueEntry) (model.ReviewQueueEntry, error)
	GetReview(ctx context.Context, id string) (*model.ReviewQueueEntry, error)
	ListReviewQueue(ctx context.Context, filter ReviewFilter) ([]model.ReviewQueueEntry, error)
	TransitionReview(ctx context.Context, id string, to model.ReviewStatus) (*model.ReviewQueueEntry, error)

	// Runs
	CreateRun(ctx context.Context, run *model.ValidationRun) error
	TransitionRun(ctx context.Context, runID string, from, to model.RunStatus, at time.Time, errMsg string) error
	UpdateRunMetrics(ctx context.Context, runID string, delta model.MetricsDelta) error
	GetRun(ctx context.Context, runID string) (*model.ValidationRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.ValidationRun, error)
	AppendRunError(ctx context.Context, e model.RunError) error
	ListRunErrors(ctx context.Context, runID string) ([]model.RunError, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// Column lists shared by both backends. Order must match the scan helpers.
const (
	evidenceColumns = `id, provider_id, field_name, value, source_name, source_weight, extraction_method, observed_at, is_primary_source, run_id`
	providerColumns = `provider_id, fields, overall_confidence, validation_status, requires_manual_review, flagged_reason, version, last_run_id, last_validated_at, updated_at`
	reviewColumns   = `id, seq, provider_id, run_id, issue_type, issue_severity, issue_description, affected_fields, conflicting_sources, priority_score, review_status, created_at, updated_at`
	runColumns      = `id, job_type, status, config, provider_ids, triggered_by, created_at, started_at, ended_at, providers_processed, providers_succeeded, providers_failed, providers_flagged, providers_scored, confidence_sum, discrepancies_found, fields_updated, evidence_discarded, error_count, error`
	runErrorColumns = `id, run_id, provider_id, category, message, created_at`
)

type scannable interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

// prepareEvidence validates e and fills its ID.
func prepareEvidence(e model.EvidenceTuple) (model.EvidenceTuple, error) {
	if err := e.Validate(); err != nil {
		return e, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.ObservedAt = e.ObservedAt.UTC()
	return e, nil
}

// rowError locates a rejected batch row while keeping the error category
// outermost.
func rowError(err error, i int) error {
	return model.NewEngineError(model.CategoryOf(err), eris.Wrapf(err, "evidence row %d", i))
}

func evidenceArgs(e model.EvidenceTuple) []any {
	return []any{e.ID, e.ProviderID, e.FieldName, e.Value, e.SourceName, e.SourceWeight,
		e.ExtractionMethod, e.ObservedAt, e.IsPrimarySource, e.RunID}
}

func scanEvidence(row scannable) (model.EvidenceTuple, error) {
	var e model.EvidenceTuple
	err := row.Scan(&e.ID, &e.ProviderID, &e.FieldName, &e.Value, &e.SourceName, &e.SourceWeight,
		&e.ExtractionMethod, &e.ObservedAt, &e.IsPrimarySource, &e.RunID)
	return e, err
}

func scanProvider(row scannable) (*model.ProviderRecord, error) {
	var p model.ProviderRecord
	var fieldsJSON []byte
	err := row.Scan(&p.ProviderID, &fieldsJSON, &p.OverallConfidence, &p.ValidationStatus,
		&p.RequiresManualReview, &p.FlaggedReason, &p.Version, &p.LastRunID, &p.LastValidatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &p.Fields); err != nil {
			return nil, eris.Wrap(err, "unmarshal provider fields")
		}
	}
	return &p, nil
}

func scanReview(row scannable) (model.ReviewQueueEntry, error) {
	var r model.ReviewQueueEntry
	var affected, conflicting []byte
	err := row.Scan(&r.ID, &r.Seq, &r.ProviderID, &r.RunID, &r.IssueType, &r.IssueSeverity, &r.IssueDescription,
		&affected, &conflicting, &r.PriorityScore, &r.ReviewStatus, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	if err := unmarshalStrings(affected, &r.AffectedFields); err != nil {
		return r, eris.Wrap(err, "unmarshal affected fields")
	}
	if err := unmarshalStrings(conflicting, &r.ConflictingSources); err != nil {
		return r, eris.Wrap(err, "unmarshal conflicting sources")
	}
	return r, nil
}

func scanRun(row scannable) (*model.ValidationRun, error) {
	var r model.ValidationRun
	var cfgJSON, idsJSON []byte
	err := row.Scan(&r.ID, &r.JobType, &r.Status, &cfgJSON, &idsJSON, &r.TriggeredBy, &r.CreatedAt,
		&r.StartedAt, &r.EndedAt, &r.ProvidersProcessed, &r.ProvidersSucceeded, &r.ProvidersFailed,
		&r.ProvidersFlagged, &r.ProvidersScored, &r.ConfidenceSum, &r.DiscrepanciesFound,
		&r.FieldsUpdated, &r.EvidenceDiscarded, &r.ErrorCount, &r.Error)
	if err != nil {
		return nil, err
	}
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &r.Config); err != nil {
			return nil, eris.Wrap(err, "unmarshal run config")
		}
	}
	if err := unmarshalStrings(idsJSON, &r.ProviderIDs); err != nil {
		return nil, eris.Wrap(err, "unmarshal provider ids")
	}
	return &r, nil
}

func scanRunError(row scannable) (model.RunError, error) {
	var e model.RunError
	err := row.Scan(&e.ID, &e.RunID, &e.ProviderID, &e.Category, &e.Message, &e.CreatedAt)
	return e, err
}

func unmarshalStrings(data []byte, dst *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, eris.Wrapf(err, "marshal %T", v)
}

func marshalStrings(v []string) []byte {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return b
}

// prepareReview fills defaults for a new queue entry.
func prepareReview(e model.ReviewQueueEntry, now time.Time) model.ReviewQueueEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReviewStatus == "" {
		e.ReviewStatus = model.ReviewPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = now
	return e
}

// prepareRun fills defaults for a new run.
func prepareRun(run *model.ValidationRun, now time.Time) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.JobType == "" {
		run.JobType = model.JobTypeFullValidation
	}
	if run.Status == "" {
		run.Status = model.RunStatusPending
	}
	if run.Status != model.RunStatusPending {
		return eris.Errorf("new run %s must start pending, got %s", run.ID, run.Status)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return nil
}

func runTimes(to model.RunStatus, at time.Time) (started, ended *time.Time) {
	at = at.UTC()
	switch {
	case to == model.RunStatusRunning:
		started = &at
	case to.Terminal():
		ended = &at
	}
	return started, ended
}

func metricsArgs(d model.MetricsDelta) []any {
	return []any{d.Processed, d.Succeeded, d.Failed, d.Flagged, d.Scored, d.ConfidenceSum,
		d.Discrepancies, d.FieldsUpdated, d.EvidenceDiscarded, d.Errors}
}

func checkRecord(rec model.ProviderRecord) ([]byte, error) {
	if err := rec.CheckInvariants(); err != nil {
		return nil, err
	}
	fields := rec.Fields
	if fields == nil {
		fields = map[string]model.ResolvedField{}
	}
	b, err := json.Marshal(fields)
	return b, eris.Wrap(err, "marshal provider fields")
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
