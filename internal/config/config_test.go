package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/provider-validator/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "provider-validator.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.InDelta(t, 0.6, cfg.Validation.GlobalMinimumConfidence, 0.001)
	assert.Equal(t, []string{"npi", "legal_name", "license_number"}, cfg.Validation.CriticalFields)
	assert.InDelta(t, 0.15, cfg.Validation.DiscrepancyMargin, 0.001)
	assert.Equal(t, 3, cfg.Validation.MaxRetryOnConflict)
	assert.InDelta(t, 3.0, cfg.Validation.CriticalFieldWeight, 0.001)
	assert.Equal(t, "identifier", cfg.Validation.FieldKinds["npi"])
	assert.Equal(t, model.IdentifierCheckNPILuhn, cfg.Validation.IdentifierChecks["npi"])
	assert.Contains(t, cfg.Validation.SuspiciousPatterns["phone"], `555-?\d{4}`)
	assert.Len(t, cfg.Validation.SuspiciousPatterns["email"], 4)
	assert.Equal(t, []string{"license_expiration"}, cfg.Validation.ExpiryFields)
	assert.Equal(t, 4, cfg.Validation.Workers)
	assert.Equal(t, 10*time.Second, cfg.Validation.StoreTimeout())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100, cfg.Retry.InitialBackoffMs)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.InDelta(t, 0.10, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 500, cfg.Monitoring.ReviewBacklogLimit)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)

	require.NoError(t, cfg.Validate("validate"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/providers
log:
  level: debug
  format: console
server:
  port: 9090
validation:
  critical_fields: [npi]
  discrepancy_margin: 0.2
  date_tolerance_hours: 48
  field_thresholds:
    npi: 0.9
  decay:
    half_life_days: 180
    floor: 0.2
sources:
  weights:
    state_board: 0.99
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"npi"}, cfg.Validation.CriticalFields)
	assert.InDelta(t, 0.2, cfg.Validation.DiscrepancyMargin, 0.001)
	assert.Equal(t, 180, cfg.Validation.Decay.HalfLifeDays)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Validation.MaxRetryOnConflict)

	rc := cfg.Validation.RunConfig()
	assert.Equal(t, 48*time.Hour, rc.DateTolerance)
	assert.InDelta(t, 0.9, rc.Threshold("npi"), 0.001)
	assert.InDelta(t, 0.6, rc.Threshold("phone"), 0.001)
	assert.True(t, rc.IsCritical("npi"))
	assert.False(t, rc.IsCritical("legal_name"))
	assert.NoError(t, rc.Validate())

	w, ok := cfg.Sources.Weight("state_board")
	assert.True(t, ok)
	assert.InDelta(t, 0.99, w, 0.001)
	w, ok = cfg.Sources.Weight("Google_Maps")
	assert.True(t, ok)
	assert.InDelta(t, 0.70, w, 0.001)
	_, ok = cfg.Sources.Weight("fax")
	assert.False(t, ok)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PROVIDER_STORE_DRIVER", "postgres")
	t.Setenv("PROVIDER_LOG_LEVEL", "warn")
	t.Setenv("PROVIDER_VALIDATION_WORKERS", "12")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 12, cfg.Validation.Workers)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	return &Config{
		Store:  StoreConfig{Driver: "sqlite", DatabaseURL: "test.db"},
		Server: ServerConfig{Port: 8080},
		Validation: ValidationConfig{
			GlobalMinimumConfidence: 0.6,
			CriticalFields:          []string{"npi"},
			DiscrepancyMargin:       0.15,
			MaxRetryOnConflict:      3,
			CriticalFieldWeight:     3,
			Workers:                 4,
			StoreTimeoutSecs:        10,
		},
	}
}

func TestValidate_Modes(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("migrate"))
	assert.NoError(t, cfg.Validate("validate"))
	assert.NoError(t, cfg.Validate("serve"))

	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_Store(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.True(t, model.IsCategory(err, model.ErrorCategoryConfiguration))
}

func TestValidate_ServePort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.NoError(t, cfg.Validate("validate"))
}

func TestValidate_SourceWeights(t *testing.T) {
	cfg := validDefaults()
	cfg.Sources.Weights = map[string]float64{"fax": 1.5}

	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sources.weights.fax")
}

func TestValidationConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ValidationConfig)
		want   string
	}{
		{"empty critical fields", func(c *ValidationConfig) { c.CriticalFields = nil }, "critical_fields"},
		{"minimum above one", func(c *ValidationConfig) { c.GlobalMinimumConfidence = 1.2 }, "global_minimum_confidence"},
		{"negative margin", func(c *ValidationConfig) { c.DiscrepancyMargin = -0.1 }, "discrepancy_margin"},
		{"zero retries", func(c *ValidationConfig) { c.MaxRetryOnConflict = 0 }, "max_retry_on_conflict"},
		{"zero critical weight", func(c *ValidationConfig) { c.CriticalFieldWeight = 0 }, "critical_field_weight"},
		{"threshold out of range", func(c *ValidationConfig) { c.FieldThresholds = map[string]float64{"npi": 2} }, "field_thresholds.npi"},
		{"unknown kind", func(c *ValidationConfig) { c.FieldKinds = map[string]string{"npi": "number"} }, "field_kinds.npi"},
		{"unknown check", func(c *ValidationConfig) { c.IdentifierChecks = map[string]string{"npi": "crc"} }, "identifier_checks.npi"},
		{"bad pattern", func(c *ValidationConfig) { c.SuspiciousPatterns = map[string][]string{"email": {"test@(["}} }, "suspicious_patterns.email"},
		{"zero workers", func(c *ValidationConfig) { c.Workers = 0 }, "workers"},
		{"zero timeout", func(c *ValidationConfig) { c.StoreTimeoutSecs = 0 }, "store_timeout_secs"},
		{"negative rate", func(c *ValidationConfig) { c.ProvidersPerSecond = -1 }, "providers_per_second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults().Validation
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, model.IsCategory(err, model.ErrorCategoryConfiguration))
		})
	}
}

func TestRunConfig_CopiesMaps(t *testing.T) {
	cfg := validDefaults().Validation
	cfg.FieldKinds = map[string]string{"npi": "IDENTIFIER"}
	cfg.IdentifierChecks = map[string]string{"npi": model.IdentifierCheckNPILuhn}
	cfg.SuspiciousPatterns = map[string][]string{"phone": {`555-?\d{4}`}}
	cfg.ExpiryFields = []string{"license_expiration"}

	rc := cfg.RunConfig()
	assert.Equal(t, model.FieldKindIdentifier, rc.Kind("npi"))

	rc.CriticalFields[0] = "changed"
	rc.IdentifierChecks["npi"] = "changed"
	assert.Equal(t, "npi", cfg.CriticalFields[0])
	assert.Equal(t, model.IdentifierCheckNPILuhn, cfg.IdentifierChecks["npi"])

	rc.SuspiciousPatterns["phone"][0] = "changed"
	rc.ExpiryFields[0] = "changed"
	assert.Equal(t, `555-?\d{4}`, cfg.SuspiciousPatterns["phone"][0])
	assert.Equal(t, "license_expiration", cfg.ExpiryFields[0])
}

func TestRetryConfig_Resilience(t *testing.T) {
	rc := RetryConfig{MaxAttempts: 5, InitialBackoffMs: 50, MaxBackoffMs: 1000, Multiplier: 3, JitterFraction: 0}.Resilience()
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, rc.InitialBackoff)
	assert.Equal(t, time.Second, rc.MaxBackoff)
	assert.InDelta(t, 3.0, rc.Multiplier, 0.001)
	assert.InDelta(t, 0.0, rc.JitterFraction, 0.001)
}
