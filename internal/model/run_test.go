package model

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunStatusPending, RunStatusRunning, true},
		{RunStatusPending, RunStatusFailed, true},
		{RunStatusPending, RunStatusCompleted, false},
		{RunStatusRunning, RunStatusCompleted, true},
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusRunning, RunStatusPending, false},
		{RunStatusCompleted, RunStatusRunning, false},
		{RunStatusCompleted, RunStatusFailed, false},
		{RunStatusFailed, RunStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
			if tt.want {
				assert.NoError(t, CheckRunTransition(tt.from, tt.to))
			} else {
				assert.Error(t, CheckRunTransition(tt.from, tt.to))
			}
		})
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.False(t, RunStatus("bogus").Valid())
}

func TestValidationRun_ApplyAndDerivedMetrics(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	run := ValidationRun{ID: "run-1", StartedAt: &start, EndedAt: &end}

	run.Apply(MetricsDelta{Processed: 1, Succeeded: 1, Scored: 1, ConfidenceSum: 0.9, Discrepancies: 2})
	run.Apply(MetricsDelta{Processed: 1, Failed: 1, Scored: 1, ConfidenceSum: 0.3})
	run.Apply(MetricsDelta{Processed: 1, Failed: 1, Errors: 1})

	assert.Equal(t, int64(3), run.ProvidersProcessed)
	assert.Equal(t, int64(1), run.ProvidersSucceeded)
	assert.Equal(t, int64(2), run.ProvidersFailed)
	assert.Equal(t, int64(2), run.DiscrepanciesFound)
	assert.Equal(t, int64(1), run.ErrorCount)
	assert.InDelta(t, 0.6, run.AvgConfidence(), 1e-9)
	assert.Equal(t, 30*time.Minute, run.Duration(time.Now()))
	assert.InDelta(t, 6.0, run.ThroughputPerHour(time.Now()), 1e-9)
}

func TestValidationRun_NotStarted(t *testing.T) {
	t.Parallel()

	run := ValidationRun{}
	assert.Zero(t, run.AvgConfidence())
	assert.Zero(t, run.Duration(time.Now()))
	assert.Zero(t, run.ThroughputPerHour(time.Now()))
}

func TestEngineError_Category(t *testing.T) {
	t.Parallel()

	err := NewEngineError(ErrorCategoryWriteConflict, assert.AnError)
	assert.Equal(t, ErrorCategoryWriteConflict, CategoryOf(err))
	assert.True(t, IsCategory(err, ErrorCategoryWriteConflict))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "write_conflict")

	assert.Equal(t, ErrorCategoryInternal, CategoryOf(assert.AnError))
	assert.False(t, IsCategory(nil, ErrorCategoryInternal))
}

func TestEvidenceTuple_Validate(t *testing.T) {
	t.Parallel()

	good := EvidenceTuple{
		ProviderID:   "P1",
		FieldName:    "npi",
		Value:        "1234567893",
		SourceName:   "npi_registry",
		SourceWeight: 0.9,
		ObservedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, good.Validate())

	tests := []struct {
		name   string
		mutate func(e *EvidenceTuple)
		want   string
	}{
		{"missing provider", func(e *EvidenceTuple) { e.ProviderID = " " }, "provider_id"},
		{"missing field", func(e *EvidenceTuple) { e.FieldName = "" }, "field_name"},
		{"missing source", func(e *EvidenceTuple) { e.SourceName = "" }, "source_name"},
		{"missing observed", func(e *EvidenceTuple) { e.ObservedAt = time.Time{} }, "observed_at"},
		{"weight too high", func(e *EvidenceTuple) { e.SourceWeight = 1.2 }, "source_weight"},
		{"weight negative", func(e *EvidenceTuple) { e.SourceWeight = -0.1 }, "source_weight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := good
			tt.mutate(&e)
			err := e.Validate()
			require.Error(t, err)
			assert.True(t, IsCategory(err, ErrorCategoryMalformedEvidence))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckTransition_IllegalSentinel(t *testing.T) {
	t.Parallel()

	err := CheckRunTransition(RunStatusCompleted, RunStatusRunning)
	assert.True(t, eris.Is(err, ErrIllegalTransition))

	err = CheckReviewTransition(ReviewPending, ReviewResolved)
	assert.True(t, eris.Is(err, ErrIllegalTransition))

	err = CheckReviewTransition(ReviewPending, ReviewStatus("closed"))
	assert.False(t, eris.Is(err, ErrIllegalTransition))
}
