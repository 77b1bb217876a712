package discrepancy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-validator/internal/confidence"
	"github.com/sells-group/provider-validator/internal/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func tuple(field, value, source string, weight float64, primary bool) model.EvidenceTuple {
	return model.EvidenceTuple{
		ProviderID:      "P1",
		FieldName:       field,
		Value:           value,
		SourceName:      source,
		SourceWeight:    weight,
		ObservedAt:      t0,
		IsPrimarySource: primary,
	}
}

func resolve(field string, evidence ...model.EvidenceTuple) model.FieldResolution {
	return confidence.NewAggregator(nil, 0).Resolve(field, confidence.FieldPolicy{Kind: model.FieldKindText}, evidence)
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		margin   float64
		evidence []model.EvidenceTuple
		flagged  bool
		reason   Reason
	}{
		{
			name:   "single value",
			margin: 0.15,
			evidence: []model.EvidenceTuple{
				tuple("phone", "555-0100", "a", 0.9, false),
				tuple("phone", "555-0100", "b", 0.5, false),
			},
		},
		{
			name:   "narrow gap",
			margin: 0.15,
			evidence: []model.EvidenceTuple{
				tuple("phone", "555-0100", "a", 0.7, false),
				tuple("phone", "555-0199", "b", 0.6, false),
			},
			flagged: true,
			reason:  ReasonNarrowMargin,
		},
		{
			name:   "wide gap",
			margin: 0.15,
			evidence: []model.EvidenceTuple{
				tuple("phone", "555-0100", "a", 0.9, false),
				tuple("phone", "555-0199", "b", 0.5, false),
			},
		},
		{
			name:   "primary conflict ignores margin",
			margin: 0,
			evidence: []model.EvidenceTuple{
				tuple("legal_name", "Acme Health", "state_board", 0.95, true),
				tuple("legal_name", "Acme Health LLC", "npi_registry", 0.1, true),
			},
			flagged: true,
			reason:  ReasonPrimaryConflict,
		},
		{
			name:   "primary agreement",
			margin: 0.15,
			evidence: []model.EvidenceTuple{
				tuple("legal_name", "Acme Health", "state_board", 0.95, true),
				tuple("legal_name", "ACME health", "npi_registry", 0.9, true),
			},
		},
		{
			name:   "zero margin disables narrow gap",
			margin: 0,
			evidence: []model.EvidenceTuple{
				tuple("phone", "555-0100", "a", 0.6, false),
				tuple("phone", "555-0199", "b", 0.6, false),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := resolve(tt.evidence[0].FieldName, tt.evidence...)
			got := New(tt.margin).Detect(res)
			assert.Equal(t, tt.flagged, got.Flagged)
			assert.Equal(t, tt.reason, got.Reason)
			if tt.flagged {
				assert.Len(t, got.Competing, 2)
				assert.NotEmpty(t, got.Describe())
			} else {
				assert.Empty(t, got.Describe())
			}
		})
	}
}

func TestDetect_EmptyResolution(t *testing.T) {
	t.Parallel()

	got := New(0.15).Detect(model.FieldResolution{FieldName: "npi"})
	assert.False(t, got.Flagged)
	assert.Zero(t, got.Gap)
}

func TestDetect_DoesNotMutate(t *testing.T) {
	t.Parallel()

	res := resolve("phone",
		tuple("phone", "555-0100", "a", 0.7, false),
		tuple("phone", "555-0199", "b", 0.6, false),
	)
	before := res
	_ = New(0.15).Detect(res)
	assert.Equal(t, before, res)
	assert.False(t, res.Discrepancy)
}

func TestApply(t *testing.T) {
	t.Parallel()

	resolutions := []model.FieldResolution{
		resolve("phone",
			tuple("phone", "555-0100", "a", 0.7, false),
			tuple("phone", "555-0199", "b", 0.6, false),
		),
		resolve("npi", tuple("npi", "1234567893", "npi_registry", 0.9, true)),
	}

	flagged := New(0.15).Apply(resolutions)
	require.Contains(t, flagged, "phone")
	assert.NotContains(t, flagged, "npi")
	assert.True(t, resolutions[0].Discrepancy)
	assert.False(t, resolutions[1].Discrepancy)
	assert.Equal(t, []string{"a", "b"}, flagged["phone"].ConflictingSources())
}
