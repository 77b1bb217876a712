package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/provider-validator/internal/model"
	"github.com/sells-group/provider-validator/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ValidationConfig holds the engine defaults used to build each run's
// RunConfig, plus worker pool tuning.
type ValidationConfig struct {
	GlobalMinimumConfidence float64             `yaml:"global_minimum_confidence" mapstructure:"global_minimum_confidence"`
	CriticalFields          []string            `yaml:"critical_fields" mapstructure:"critical_fields"`
	DiscrepancyMargin       float64             `yaml:"discrepancy_margin" mapstructure:"discrepancy_margin"`
	MaxRetryOnConflict      int                 `yaml:"max_retry_on_conflict" mapstructure:"max_retry_on_conflict"`
	CriticalFieldWeight     float64             `yaml:"critical_field_weight" mapstructure:"critical_field_weight"`
	FieldThresholds         map[string]float64  `yaml:"field_thresholds" mapstructure:"field_thresholds"`
	FieldKinds              map[string]string   `yaml:"field_kinds" mapstructure:"field_kinds"`
	DateToleranceHours      float64             `yaml:"date_tolerance_hours" mapstructure:"date_tolerance_hours"`
	IdentifierChecks        map[string]string   `yaml:"identifier_checks" mapstructure:"identifier_checks"`
	SuspiciousPatterns      map[string][]string `yaml:"suspicious_patterns" mapstructure:"suspicious_patterns"`
	ExpiryFields            []string            `yaml:"expiry_fields" mapstructure:"expiry_fields"`
	Decay                   model.DecayConfig   `yaml:"decay" mapstructure:"decay"`
	Workers                 int                 `yaml:"workers" mapstructure:"workers"`
	StoreTimeoutSecs        int                 `yaml:"store_timeout_secs" mapstructure:"store_timeout_secs"`
	ProvidersPerSecond      float64             `yaml:"providers_per_second" mapstructure:"providers_per_second"`
}

// RetryConfig configures backoff for transient store failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// SourcesConfig holds per-source trust weights applied to imported evidence
// that carries no weight of its own.
type SourcesConfig struct {
	Weights map[string]float64 `yaml:"weights" mapstructure:"weights"`
}

// ServerConfig configures the trigger API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run health alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewBacklogLimit   int     `yaml:"review_backlog_limit" mapstructure:"review_backlog_limit"`
	MinAvgConfidence     float64 `yaml:"min_avg_confidence" mapstructure:"min_avg_confidence"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultSourceWeights are the built-in trust weights per evidence source.
var DefaultSourceWeights = map[string]float64{
	"state_board":        0.95,
	"npi_registry":       0.90,
	"hospital_directory": 0.85,
	"google_maps":        0.70,
	"practice_website":   0.60,
	"format_validation":  0.50,
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROVIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "provider-validator.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("validation.global_minimum_confidence", 0.6)
	v.SetDefault("validation.critical_fields", []string{"npi", "legal_name", "license_number"})
	v.SetDefault("validation.discrepancy_margin", 0.15)
	v.SetDefault("validation.max_retry_on_conflict", 3)
	v.SetDefault("validation.critical_field_weight", 3.0)
	v.SetDefault("validation.field_kinds", map[string]string{
		"npi":                "identifier",
		"license_number":     "identifier",
		"license_expiration": "date",
	})
	v.SetDefault("validation.identifier_checks", map[string]string{"npi": model.IdentifierCheckNPILuhn})
	v.SetDefault("validation.suspicious_patterns", map[string][]string{
		"phone":   {`555-?\d{4}`, `999-?\d{4}`, `000-?\d{4}`},
		"address": {`P\.?\s*O\.?\s+BOX`},
		"email":   {`test@`, `example\.com$`, `sample\.`, `temp\.`},
	})
	v.SetDefault("validation.expiry_fields", []string{"license_expiration"})
	v.SetDefault("validation.date_tolerance_hours", 0)
	v.SetDefault("validation.decay.half_life_days", 0)
	v.SetDefault("validation.decay.floor", 0.1)
	v.SetDefault("validation.workers", 4)
	v.SetDefault("validation.store_timeout_secs", 10)
	v.SetDefault("validation.providers_per_second", 0)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.review_backlog_limit", 500)
	v.SetDefault("monitoring.min_avg_confidence", 0.5)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 100)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// RunConfig builds the per-run engine configuration.
func (c ValidationConfig) RunConfig() model.RunConfig {
	rc := model.RunConfig{
		GlobalMinimumConfidence: c.GlobalMinimumConfidence,
		CriticalFields:          append([]string(nil), c.CriticalFields...),
		DiscrepancyMargin:       c.DiscrepancyMargin,
		MaxRetryOnConflict:      c.MaxRetryOnConflict,
		CriticalFieldWeight:     c.CriticalFieldWeight,
		DateTolerance:           time.Duration(c.DateToleranceHours * float64(time.Hour)),
		Decay:                   c.Decay,
	}
	if len(c.FieldThresholds) > 0 {
		rc.FieldThresholds = make(map[string]float64, len(c.FieldThresholds))
		for k, v := range c.FieldThresholds {
			rc.FieldThresholds[k] = v
		}
	}
	if len(c.FieldKinds) > 0 {
		rc.FieldKinds = make(map[string]model.FieldKind, len(c.FieldKinds))
		for k, v := range c.FieldKinds {
			rc.FieldKinds[k] = model.FieldKind(strings.ToLower(v))
		}
	}
	if len(c.IdentifierChecks) > 0 {
		rc.IdentifierChecks = make(map[string]string, len(c.IdentifierChecks))
		for k, v := range c.IdentifierChecks {
			rc.IdentifierChecks[k] = v
		}
	}
	if len(c.SuspiciousPatterns) > 0 {
		rc.SuspiciousPatterns = make(map[string][]string, len(c.SuspiciousPatterns))
		for k, v := range c.SuspiciousPatterns {
			rc.SuspiciousPatterns[k] = append([]string(nil), v...)
		}
	}
	rc.ExpiryFields = append([]string(nil), c.ExpiryFields...)
	return rc
}

// Validate reports every invalid engine or pool setting as a configuration
// error.
func (c ValidationConfig) Validate() error {
	if err := c.RunConfig().Validate(); err != nil {
		return err
	}
	var problems []string
	if c.Workers < 1 {
		problems = append(problems, "workers must be >= 1")
	}
	if c.StoreTimeoutSecs < 1 {
		problems = append(problems, "store_timeout_secs must be >= 1")
	}
	if c.ProvidersPerSecond < 0 {
		problems = append(problems, "providers_per_second must not be negative")
	}
	if len(problems) > 0 {
		return model.NewEngineError(model.ErrorCategoryConfiguration,
			eris.Errorf("invalid validation config: %s", strings.Join(problems, "; ")))
	}
	return nil
}

// StoreTimeout is the per-call store deadline.
func (c ValidationConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSecs) * time.Second
}

// Resilience converts the retry settings for store calls.
func (c RetryConfig) Resilience() resilience.RetryConfig {
	return resilience.FromRetryConfig(c.MaxAttempts, c.InitialBackoffMs, c.MaxBackoffMs, c.Multiplier, c.JitterFraction)
}

// Weight returns the trust weight for source: the configured weight, then
// the built-in default.
func (c SourcesConfig) Weight(source string) (float64, bool) {
	key := strings.ToLower(strings.TrimSpace(source))
	if w, ok := c.Weights[key]; ok {
		return w, true
	}
	w, ok := DefaultSourceWeights[key]
	return w, ok
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
