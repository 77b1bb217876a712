package model

import (
	"errors"
	"time"
)

// ErrorCategory classifies a failure for the per-run error log.
type ErrorCategory string

const (
	ErrorCategoryEvidenceUnavailable ErrorCategory = "evidence_unavailable"
	ErrorCategoryMalformedEvidence   ErrorCategory = "malformed_evidence"
	ErrorCategoryWriteConflict       ErrorCategory = "write_conflict"
	ErrorCategoryConfiguration       ErrorCategory = "configuration"
	ErrorCategoryInternal            ErrorCategory = "internal"
)

// EngineError attaches a category to an underlying error.
type EngineError struct {
	Category ErrorCategory
	Err      error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return string(e.Category) + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError wraps err with the given category.
func NewEngineError(category ErrorCategory, err error) *EngineError {
	return &EngineError{Category: category, Err: err}
}

// CategoryOf returns the category of the first EngineError in err's chain,
// or ErrorCategoryInternal if there is none.
func CategoryOf(err error) ErrorCategory {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ErrorCategoryInternal
}

// IsCategory reports whether err carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	return err != nil && CategoryOf(err) == category
}

// RunError is one entry of a run's per-provider error log.
type RunError struct {
	ID         int64         `json:"id,omitempty"`
	RunID      string        `json:"run_id"`
	ProviderID string        `json:"provider_id"`
	Category   ErrorCategory `json:"category"`
	Message    string        `json:"message"`
	CreatedAt  time.Time     `json:"created_at"`
}
