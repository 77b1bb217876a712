package model

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// FieldKind selects how evidence values for a field are compared.
type FieldKind string

const (
	FieldKindText       FieldKind = "text"
	FieldKindDate       FieldKind = "date"
	FieldKindIdentifier FieldKind = "identifier"
)

// Identifier check names accepted in RunConfig.IdentifierChecks.
const (
	IdentifierCheckNPILuhn = "npi_luhn"
)

// DecayConfig holds time decay parameters for source weights. A zero
// HalfLifeDays disables decay.
type DecayConfig struct {
	HalfLifeDays int     `json:"half_life_days" yaml:"half_life_days" mapstructure:"half_life_days"`
	Floor        float64 `json:"floor" yaml:"floor" mapstructure:"floor"`
}

// RunConfig is the explicit per-run configuration of the engine.
type RunConfig struct {
	GlobalMinimumConfidence float64              `json:"global_minimum_confidence"`
	CriticalFields          []string             `json:"critical_fields"`
	DiscrepancyMargin       float64              `json:"discrepancy_margin"`
	MaxRetryOnConflict      int                  `json:"max_retry_on_conflict"`
	CriticalFieldWeight     float64              `json:"critical_field_weight"`
	FieldThresholds         map[string]float64   `json:"field_thresholds,omitempty"`
	FieldKinds              map[string]FieldKind `json:"field_kinds,omitempty"`
	DateTolerance           time.Duration        `json:"date_tolerance"`
	IdentifierChecks        map[string]string    `json:"identifier_checks,omitempty"`
	Decay                   DecayConfig          `json:"decay"`

	// SuspiciousPatterns maps a field to case-insensitive regular
	// expressions that mark its resolved value for review.
	SuspiciousPatterns map[string][]string `json:"suspicious_patterns,omitempty"`
	// ExpiryFields lists date fields whose resolved value must not be in
	// the past, such as a license expiration.
	ExpiryFields []string `json:"expiry_fields,omitempty"`
}

// Validate returns a configuration error describing every invalid setting.
func (c RunConfig) Validate() error {
	var problems []string
	if len(c.CriticalFields) == 0 {
		problems = append(problems, "critical_fields must not be empty")
	}
	for _, f := range c.CriticalFields {
		if strings.TrimSpace(f) == "" {
			problems = append(problems, "critical_fields contains a blank name")
			break
		}
	}
	if !unitInterval(c.GlobalMinimumConfidence) {
		problems = append(problems, "global_minimum_confidence must be in [0,1]")
	}
	if !unitInterval(c.DiscrepancyMargin) {
		problems = append(problems, "discrepancy_margin must be in [0,1]")
	}
	if c.MaxRetryOnConflict < 1 {
		problems = append(problems, "max_retry_on_conflict must be >= 1")
	}
	if math.IsNaN(c.CriticalFieldWeight) || c.CriticalFieldWeight <= 0 {
		problems = append(problems, "critical_field_weight must be > 0")
	}
	if c.DateTolerance < 0 {
		problems = append(problems, "date_tolerance must not be negative")
	}
	for _, name := range sortedKeys(c.FieldThresholds) {
		if !unitInterval(c.FieldThresholds[name]) {
			problems = append(problems, "field_thresholds."+name+" must be in [0,1]")
		}
	}
	for _, name := range sortedKeys(c.FieldKinds) {
		switch c.FieldKinds[name] {
		case FieldKindText, FieldKindDate, FieldKindIdentifier:
		default:
			problems = append(problems, "field_kinds."+name+" is not text, date, or identifier")
		}
	}
	for _, name := range sortedKeys(c.IdentifierChecks) {
		if c.IdentifierChecks[name] != IdentifierCheckNPILuhn {
			problems = append(problems, "identifier_checks."+name+" is not a known check")
		}
	}
	for _, name := range sortedKeys(c.SuspiciousPatterns) {
		for _, p := range c.SuspiciousPatterns[name] {
			if _, err := regexp.Compile(p); err != nil {
				problems = append(problems, "suspicious_patterns."+name+" has an invalid pattern "+p)
			}
		}
	}
	if c.Decay.HalfLifeDays < 0 || !unitInterval(c.Decay.Floor) {
		problems = append(problems, "decay must have half_life_days >= 0 and floor in [0,1]")
	}
	if len(problems) > 0 {
		return NewEngineError(ErrorCategoryConfiguration,
			eris.Errorf("invalid run config: %s", strings.Join(problems, "; ")))
	}
	return nil
}

// IsCritical reports whether field gates the overall validation status.
func (c RunConfig) IsCritical(field string) bool {
	for _, f := range c.CriticalFields {
		if f == field {
			return true
		}
	}
	return false
}

// Threshold returns the minimum acceptable confidence for field, falling back
// to the global minimum.
func (c RunConfig) Threshold(field string) float64 {
	if t, ok := c.FieldThresholds[field]; ok {
		return t
	}
	return c.GlobalMinimumConfidence
}

// Kind returns the comparison kind for field. Unlisted fields are text.
func (c RunConfig) Kind(field string) FieldKind {
	if k, ok := c.FieldKinds[field]; ok {
		return k
	}
	return FieldKindText
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
