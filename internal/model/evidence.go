package model

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// EvidenceTuple is one observation of a provider field from one source.
// Tuples are append-only and never mutated once recorded.
type EvidenceTuple struct {
	ID               string    `json:"id,omitempty" yaml:"id,omitempty"`
	ProviderID       string    `json:"provider_id" yaml:"provider_id"`
	FieldName        string    `json:"field_name" yaml:"field_name"`
	Value            string    `json:"value" yaml:"value"`
	SourceName       string    `json:"source_name" yaml:"source_name"`
	SourceWeight     float64   `json:"source_weight" yaml:"source_weight"`
	ExtractionMethod string    `json:"extraction_method,omitempty" yaml:"extraction_method,omitempty"`
	ObservedAt       time.Time `json:"observed_at" yaml:"observed_at"`
	IsPrimarySource  bool      `json:"is_primary_source" yaml:"is_primary_source"`
	RunID            string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
}

// Validate reports a malformed-evidence error when a required attribute is
// missing or out of range.
func (e EvidenceTuple) Validate() error {
	var missing []string
	if strings.TrimSpace(e.ProviderID) == "" {
		missing = append(missing, "provider_id")
	}
	if strings.TrimSpace(e.FieldName) == "" {
		missing = append(missing, "field_name")
	}
	if strings.TrimSpace(e.SourceName) == "" {
		missing = append(missing, "source_name")
	}
	if e.ObservedAt.IsZero() {
		missing = append(missing, "observed_at")
	}
	if len(missing) > 0 {
		return NewEngineError(ErrorCategoryMalformedEvidence,
			eris.Errorf("evidence missing %s", strings.Join(missing, ", ")))
	}
	if math.IsNaN(e.SourceWeight) || e.SourceWeight < 0 || e.SourceWeight > 1 {
		return NewEngineError(ErrorCategoryMalformedEvidence,
			eris.Errorf("evidence source_weight %v outside [0,1]", e.SourceWeight))
	}
	return nil
}
