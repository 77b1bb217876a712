package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ValidationStatus is the disposition of a provider record.
type ValidationStatus string

const (
	ValidationStatusPending   ValidationStatus = "pending"
	ValidationStatusValidated ValidationStatus = "validated"
	ValidationStatusFlagged   ValidationStatus = "flagged"
	ValidationStatusFailed    ValidationStatus = "failed"
)

// Candidate is one distinct normalized value observed for a field together
// with the combined confidence of the evidence voting for it.
type Candidate struct {
	Key              string    `json:"key"`
	Value            string    `json:"value"`
	Confidence       float64   `json:"confidence"`
	Sources          []string  `json:"sources"`
	Support          int       `json:"support"`
	HasPrimary       bool      `json:"has_primary"`
	PrimarySources   []string  `json:"primary_sources,omitempty"`
	LatestPrimaryAt  time.Time `json:"latest_primary_at,omitempty"`
	LatestObservedAt time.Time `json:"latest_observed_at"`
}

// FieldResolution is the derived outcome for one field. It is recomputed on
// every run and only persisted as part of a ProviderRecord.
type FieldResolution struct {
	FieldName           string      `json:"field_name"`
	ResolvedValue       *string     `json:"resolved_value"`
	Confidence          float64     `json:"confidence"`
	ContributingSources []string    `json:"contributing_sources"`
	Discrepancy         bool        `json:"discrepancy"`
	Critical            bool        `json:"critical"`
	Threshold           float64     `json:"threshold"`
	BelowThreshold      bool        `json:"below_threshold"`
	Candidates          []Candidate `json:"candidates,omitempty"`
}

// Resolved reports whether the field has a value with non-zero confidence.
func (r FieldResolution) Resolved() bool {
	return r.ResolvedValue != nil && r.Confidence > 0
}

// ResolvedField is the persisted per-field portion of a provider record.
type ResolvedField struct {
	Value       *string  `json:"value"`
	Confidence  float64  `json:"confidence"`
	Sources     []string `json:"sources,omitempty"`
	Discrepancy bool     `json:"discrepancy,omitempty"`
}

// ProviderRecord is the reconciled view of one provider. Records are never
// deleted; each run supersedes the previous state under optimistic locking.
type ProviderRecord struct {
	ProviderID           string                   `json:"provider_id"`
	Fields               map[string]ResolvedField `json:"fields"`
	OverallConfidence    float64                  `json:"overall_confidence"`
	ValidationStatus     ValidationStatus         `json:"validation_status"`
	RequiresManualReview bool                     `json:"requires_manual_review"`
	FlaggedReason        string                   `json:"flagged_reason,omitempty"`
	Version              int64                    `json:"version"`
	LastRunID            string                   `json:"last_run_id,omitempty"`
	LastValidatedAt      time.Time                `json:"last_validated_at"`
	UpdatedAt            time.Time                `json:"updated_at"`
}

// CheckInvariants verifies the record-level invariants that every persisted
// record must satisfy.
func (p ProviderRecord) CheckInvariants() error {
	if p.ProviderID == "" {
		return eris.New("provider record: empty provider_id")
	}
	if p.OverallConfidence < 0 || p.OverallConfidence > 1 {
		return eris.Errorf("provider record %s: overall_confidence %v outside [0,1]", p.ProviderID, p.OverallConfidence)
	}
	for name, f := range p.Fields {
		if f.Confidence < 0 || f.Confidence > 1 {
			return eris.Errorf("provider record %s: field %s confidence %v outside [0,1]", p.ProviderID, name, f.Confidence)
		}
	}
	switch p.ValidationStatus {
	case ValidationStatusFlagged, ValidationStatusFailed:
		if !p.RequiresManualReview {
			return eris.Errorf("provider record %s: status %s without manual review", p.ProviderID, p.ValidationStatus)
		}
	case ValidationStatusPending, ValidationStatusValidated:
	default:
		return eris.Errorf("provider record %s: unknown status %q", p.ProviderID, p.ValidationStatus)
	}
	return nil
}
