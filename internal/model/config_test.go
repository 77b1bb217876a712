package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRunConfig() RunConfig {
	return RunConfig{
		GlobalMinimumConfidence: 0.6,
		CriticalFields:          []string{"npi", "legal_name"},
		DiscrepancyMargin:       0.15,
		MaxRetryOnConflict:      3,
		CriticalFieldWeight:     3,
		FieldThresholds:         map[string]float64{"npi": 0.8},
		FieldKinds:              map[string]FieldKind{"npi": FieldKindIdentifier, "license_expiration": FieldKindDate},
		DateTolerance:           24 * time.Hour,
		IdentifierChecks:        map[string]string{"npi": IdentifierCheckNPILuhn},
	}
}

func TestRunConfig_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validRunConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *RunConfig)
		want   string
	}{
		{"no critical fields", func(c *RunConfig) { c.CriticalFields = nil }, "critical_fields"},
		{"blank critical field", func(c *RunConfig) { c.CriticalFields = []string{"npi", " "} }, "blank name"},
		{"minimum above one", func(c *RunConfig) { c.GlobalMinimumConfidence = 1.5 }, "global_minimum_confidence"},
		{"minimum NaN", func(c *RunConfig) { c.GlobalMinimumConfidence = math.NaN() }, "global_minimum_confidence"},
		{"negative margin", func(c *RunConfig) { c.DiscrepancyMargin = -0.1 }, "discrepancy_margin"},
		{"zero retries", func(c *RunConfig) { c.MaxRetryOnConflict = 0 }, "max_retry_on_conflict"},
		{"zero critical weight", func(c *RunConfig) { c.CriticalFieldWeight = 0 }, "critical_field_weight"},
		{"bad field threshold", func(c *RunConfig) { c.FieldThresholds["npi"] = 2 }, "field_thresholds.npi"},
		{"bad field kind", func(c *RunConfig) { c.FieldKinds["npi"] = "numeric" }, "field_kinds.npi"},
		{"bad identifier check", func(c *RunConfig) { c.IdentifierChecks["npi"] = "crc" }, "identifier_checks.npi"},
		{"negative tolerance", func(c *RunConfig) { c.DateTolerance = -time.Hour }, "date_tolerance"},
		{"bad decay floor", func(c *RunConfig) { c.Decay.Floor = 3 }, "decay"},
		{"bad suspicious pattern", func(c *RunConfig) { c.SuspiciousPatterns = map[string][]string{"phone": {"555-(\\d"}} }, "suspicious_patterns.phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validRunConfig()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, IsCategory(err, ErrorCategoryConfiguration))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunConfig_Lookups(t *testing.T) {
	t.Parallel()

	c := validRunConfig()
	assert.True(t, c.IsCritical("npi"))
	assert.False(t, c.IsCritical("phone"))
	assert.Equal(t, 0.8, c.Threshold("npi"))
	assert.Equal(t, 0.6, c.Threshold("phone"))
	assert.Equal(t, FieldKindIdentifier, c.Kind("npi"))
	assert.Equal(t, FieldKindDate, c.Kind("license_expiration"))
	assert.Equal(t, FieldKindText, c.Kind("phone"))
}

func TestProviderRecord_CheckInvariants(t *testing.T) {
	t.Parallel()

	ok := ProviderRecord{ProviderID: "P1", OverallConfidence: 0.7, ValidationStatus: ValidationStatusValidated}
	assert.NoError(t, ok.CheckInvariants())

	flaggedNoReview := ProviderRecord{ProviderID: "P1", OverallConfidence: 0.4, ValidationStatus: ValidationStatusFlagged}
	assert.ErrorContains(t, flaggedNoReview.CheckInvariants(), "without manual review")

	outOfRange := ProviderRecord{ProviderID: "P1", OverallConfidence: 1.2, ValidationStatus: ValidationStatusValidated}
	assert.ErrorContains(t, outOfRange.CheckInvariants(), "outside [0,1]")

	badField := ProviderRecord{
		ProviderID:       "P1",
		ValidationStatus: ValidationStatusValidated,
		Fields:           map[string]ResolvedField{"npi": {Confidence: -1}},
	}
	assert.ErrorContains(t, badField.CheckInvariants(), "field npi")

	assert.Error(t, ProviderRecord{ValidationStatus: ValidationStatusValidated}.CheckInvariants())
	assert.Error(t, ProviderRecord{ProviderID: "P1", ValidationStatus: "weird"}.CheckInvariants())
}
