package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// IssueSeverity ranks review queue entries.
type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// IssueType names the reason a provider was queued for review.
type IssueType string

const (
	IssueUnresolvedCriticalField  IssueType = "unresolved_critical_field"
	IssueCriticalFieldDiscrepancy IssueType = "critical_field_discrepancy"
	IssueLowConfidence            IssueType = "low_confidence"
	IssueNonCriticalDiscrepancy   IssueType = "non_critical_discrepancy"
	IssueSuspiciousPattern        IssueType = "suspicious_pattern"
	IssueExpiredLicense           IssueType = "expired_license"
)

// ReviewStatus is the workflow state of a review queue entry.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewInReview  ReviewStatus = "in_review"
	ReviewResolved  ReviewStatus = "resolved"
	ReviewEscalated ReviewStatus = "escalated"
)

var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewPending:   {ReviewInReview},
	ReviewInReview:  {ReviewResolved, ReviewEscalated, ReviewPending},
	ReviewEscalated: {ReviewInReview},
	ReviewResolved:  {ReviewInReview},
}

// Valid reports whether s is a known review status.
func (s ReviewStatus) Valid() bool {
	_, ok := reviewTransitions[s]
	return ok
}

// Open reports whether an entry in this status still needs attention.
func (s ReviewStatus) Open() bool {
	return s == ReviewPending || s == ReviewInReview || s == ReviewEscalated
}

// CanTransition reports whether moving from s to next is a legal workflow step.
func (s ReviewStatus) CanTransition(next ReviewStatus) bool {
	for _, allowed := range reviewTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckReviewTransition returns an error for an illegal review transition.
func CheckReviewTransition(from, to ReviewStatus) error {
	if !to.Valid() {
		return eris.Errorf("unknown review status %q", to)
	}
	if !from.CanTransition(to) {
		return eris.Wrapf(ErrIllegalTransition, "illegal review transition %s -> %s", from, to)
	}
	return nil
}

// ReviewQueueEntry is one provider issue awaiting human resolution.
type ReviewQueueEntry struct {
	ID                 string        `json:"id"`
	Seq                int64         `json:"seq,omitempty"`
	ProviderID         string        `json:"provider_id"`
	RunID              string        `json:"run_id,omitempty"`
	IssueType          IssueType     `json:"issue_type"`
	IssueSeverity      IssueSeverity `json:"issue_severity"`
	IssueDescription   string        `json:"issue_description"`
	AffectedFields     []string      `json:"affected_fields"`
	ConflictingSources []string      `json:"conflicting_sources,omitempty"`
	PriorityScore      int           `json:"priority_score"`
	ReviewStatus       ReviewStatus  `json:"review_status"`
	CreatedAt          time.Time     `json:"created_date"`
	UpdatedAt          time.Time     `json:"last_updated"`
}
