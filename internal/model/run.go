package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// RunStatus represents the current state of a validation run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending:   {RunStatusRunning, RunStatusFailed},
	RunStatusRunning:   {RunStatusCompleted, RunStatusFailed},
	RunStatusCompleted: nil,
	RunStatusFailed:    nil,
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	_, ok := runTransitions[s]
	return ok
}

// Terminal reports whether a run in this status is immutable.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// CanTransition reports whether moving from s to next is legal.
func (s RunStatus) CanTransition(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned when a run or review entry is asked to
// move to a status its workflow does not allow from its current one.
var ErrIllegalTransition = eris.New("illegal transition")

// CheckRunTransition returns an error for an illegal run transition.
func CheckRunTransition(from, to RunStatus) error {
	if !from.CanTransition(to) {
		return eris.Wrapf(ErrIllegalTransition, "illegal run transition %s -> %s", from, to)
	}
	return nil
}

// JobTypeFullValidation is the default job type.
const JobTypeFullValidation = "full_validation"

// ValidationRun tracks one batch of providers through the engine.
type ValidationRun struct {
	ID                 string     `json:"run_id"`
	JobType            string     `json:"job_type"`
	Status             RunStatus  `json:"status"`
	Config             RunConfig  `json:"config"`
	ProviderIDs        []string   `json:"provider_ids"`
	TriggeredBy        string     `json:"triggered_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	ProvidersProcessed int64      `json:"providers_processed"`
	ProvidersSucceeded int64      `json:"providers_succeeded"`
	ProvidersFailed    int64      `json:"providers_failed"`
	ProvidersFlagged   int64      `json:"providers_flagged"`
	ProvidersScored    int64      `json:"providers_scored"`
	ConfidenceSum      float64    `json:"confidence_sum"`
	DiscrepanciesFound int64      `json:"discrepancies_found"`
	FieldsUpdated      int64      `json:"fields_updated"`
	EvidenceDiscarded  int64      `json:"evidence_discarded"`
	ErrorCount         int64      `json:"error_count"`
	Error              string     `json:"error,omitempty"`
}

// AvgConfidence is the mean overall confidence of every provider scored in
// this run.
func (r ValidationRun) AvgConfidence() float64 {
	if r.ProvidersScored == 0 {
		return 0
	}
	return r.ConfidenceSum / float64(r.ProvidersScored)
}

// Duration is the wall time between start and end, or until now while the
// run is in flight.
func (r ValidationRun) Duration(now time.Time) time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	end := now
	if r.EndedAt != nil {
		end = *r.EndedAt
	}
	return end.Sub(*r.StartedAt)
}

// ThroughputPerHour extrapolates providers processed per hour.
func (r ValidationRun) ThroughputPerHour(now time.Time) float64 {
	d := r.Duration(now)
	if d <= 0 {
		return 0
	}
	return float64(r.ProvidersProcessed) / d.Hours()
}

// Apply adds a metrics delta to the run counters.
func (r *ValidationRun) Apply(d MetricsDelta) {
	r.ProvidersProcessed += d.Processed
	r.ProvidersSucceeded += d.Succeeded
	r.ProvidersFailed += d.Failed
	r.ProvidersFlagged += d.Flagged
	r.ProvidersScored += d.Scored
	r.ConfidenceSum += d.ConfidenceSum
	r.DiscrepanciesFound += d.Discrepancies
	r.FieldsUpdated += d.FieldsUpdated
	r.EvidenceDiscarded += d.EvidenceDiscarded
	r.ErrorCount += d.Errors
}

// MetricsDelta is an increment applied to a run's counters.
type MetricsDelta struct {
	Processed         int64   `json:"processed"`
	Succeeded         int64   `json:"succeeded"`
	Failed            int64   `json:"failed"`
	Flagged           int64   `json:"flagged"`
	Scored            int64   `json:"scored"`
	ConfidenceSum     float64 `json:"confidence_sum"`
	Discrepancies     int64   `json:"discrepancies"`
	FieldsUpdated     int64   `json:"fields_updated"`
	EvidenceDiscarded int64   `json:"evidence_discarded"`
	Errors            int64   `json:"errors"`
}
