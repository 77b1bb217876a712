package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-validator/internal/model"
)

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func resolved(field, value string, critical bool) model.FieldResolution {
	return model.FieldResolution{FieldName: field, ResolvedValue: &value, Confidence: 0.9, Critical: critical}
}

func testConfig() model.RunConfig {
	return model.RunConfig{
		SuspiciousPatterns: map[string][]string{
			"phone":   {`555-?\d{4}`, `999-?\d{4}`},
			"address": {`P\.?\s*O\.?\s+BOX`},
			"email":   {`test@`, `example\.com$`},
		},
		ExpiryFields: []string{"license_expiration"},
	}
}

func TestScan(t *testing.T) {
	t.Parallel()

	d, err := New(testConfig(), now)
	require.NoError(t, err)

	tests := []struct {
		name  string
		field model.FieldResolution
		want  []Flag
	}{
		{
			name:  "placeholder phone",
			field: resolved("phone", "(212) 555-0100", false),
			want:  []Flag{{Field: "phone", Kind: KindSuspiciousPattern, Value: "(212) 555-0100", Pattern: `555-?\d{4}`}},
		},
		{
			name:  "real phone",
			field: resolved("phone", "(212) 736-0100", false),
		},
		{
			name:  "po box any case",
			field: resolved("address", "p.o. box 42, Springfield", false),
			want:  []Flag{{Field: "address", Kind: KindSuspiciousPattern, Value: "p.o. box 42, Springfield", Pattern: `P\.?\s*O\.?\s+BOX`}},
		},
		{
			name:  "throwaway email",
			field: resolved("email", "office@EXAMPLE.com", false),
			want:  []Flag{{Field: "email", Kind: KindSuspiciousPattern, Value: "office@EXAMPLE.com", Pattern: `example\.com$`}},
		},
		{
			name:  "expired license",
			field: resolved("license_expiration", "2024-12-31", true),
			want:  []Flag{{Field: "license_expiration", Kind: KindExpired, Value: "2024-12-31", Critical: true}},
		},
		{
			name:  "current license",
			field: resolved("license_expiration", "2027-12-31", true),
		},
		{
			name:  "unparseable date",
			field: resolved("license_expiration", "soon", false),
		},
		{
			name:  "unlisted field",
			field: resolved("specialty", "555-0100", false),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, d.Scan([]model.FieldResolution{tt.field}))
		})
	}
}

func TestScan_SkipsUnresolved(t *testing.T) {
	t.Parallel()

	d, err := New(testConfig(), now)
	require.NoError(t, err)

	v := "555-0100"
	assert.Empty(t, d.Scan([]model.FieldResolution{
		{FieldName: "phone", ResolvedValue: &v, Confidence: 0},
		{FieldName: "email"},
	}))

	var none *Detector
	assert.Nil(t, none.Scan([]model.FieldResolution{resolved("phone", v, false)}))
}

func TestScan_OrderAndFields(t *testing.T) {
	t.Parallel()

	d, err := New(testConfig(), now)
	require.NoError(t, err)

	flags := d.Scan([]model.FieldResolution{
		resolved("phone", "999-1234", false),
		resolved("license_expiration", "2020-01-31", true),
		resolved("email", "test@clinic.org", false),
	})
	require.Len(t, flags, 3)
	assert.Equal(t, "email", flags[0].Field)
	assert.Equal(t, "license_expiration", flags[1].Field)
	assert.Equal(t, "phone", flags[2].Field)
	assert.Equal(t, `999-?\d{4}`, flags[2].Pattern)

	assert.Equal(t, []string{"email", "phone"}, Fields(flags, KindSuspiciousPattern))
	assert.Equal(t, []string{"license_expiration"}, Fields(flags, KindExpired))
}

func TestNew_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := New(model.RunConfig{SuspiciousPatterns: map[string][]string{"phone": {"555-(\\d"}}}, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phone")
}

func TestFlag_Describe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "license_expiration: expired on 2020-01-31",
		Flag{Field: "license_expiration", Kind: KindExpired, Value: "2020-01-31"}.Describe())
	assert.Equal(t, `phone: suspicious value "555-0100" matches 555-?\d{4}`,
		Flag{Field: "phone", Kind: KindSuspiciousPattern, Value: "555-0100", Pattern: `555-?\d{4}`}.Describe())
}
