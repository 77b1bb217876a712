// Package review turns classifier verdicts into prioritized review queue
// entries.
package review

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/provider-validator/internal/classify"
	"github.com/sells-group/provider-validator/internal/model"
	"github.com/sells-group/provider-validator/internal/risk"
)

// Base priority per severity.
var severityBase = map[model.IssueSeverity]int{
	model.SeverityLow:      10,
	model.SeverityMedium:   30,
	model.SeverityHigh:     55,
	model.SeverityCritical: 80,
}

// Severity maps a classifier outcome to an issue severity and type.
func Severity(outcome classify.Outcome) (model.IssueSeverity, model.IssueType, bool) {
	switch outcome {
	case classify.OutcomeUnresolvedCritical:
		return model.SeverityCritical, model.IssueUnresolvedCriticalField, true
	case classify.OutcomeCriticalDiscrepancy:
		return model.SeverityHigh, model.IssueCriticalFieldDiscrepancy, true
	case classify.OutcomeNonCriticalDiscrepancy:
		return model.SeverityMedium, model.IssueNonCriticalDiscrepancy, true
	case classify.OutcomeLowConfidence:
		return model.SeverityLow, model.IssueLowConfidence, true
	default:
		return "", "", false
	}
}

// riskIssues maps a risk kind to its queue severity and issue type.
var riskIssues = []struct {
	kind     risk.Kind
	severity model.IssueSeverity
	issue    model.IssueType
}{
	{risk.KindExpired, model.SeverityHigh, model.IssueExpiredLicense},
	{risk.KindSuspiciousPattern, model.SeverityMedium, model.IssueSuspiciousPattern},
}

// Priority computes base(severity) + 10 per critical field affected +
// round(20 * (1 - overall)), clamped to [0, 100].
func Priority(severity model.IssueSeverity, criticalAffected int, overall float64) int {
	if math.IsNaN(overall) {
		overall = 0
	}
	overall = math.Max(0, math.Min(1, overall))
	score := severityBase[severity] + 10*criticalAffected + int(math.Round(20*(1-overall)))
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// Prioritizer builds queue entries. Now is injectable for tests.
type Prioritizer struct {
	Now func() time.Time
}

// New returns a Prioritizer using the wall clock.
func New() *Prioritizer {
	return &Prioritizer{Now: time.Now}
}

// Entry returns the queue entry for a classification's outcome, or false
// when the outcome does not require manual review. Entries always start in
// review status pending.
func (p *Prioritizer) Entry(providerID, runID string, c classify.Classification) (model.ReviewQueueEntry, bool) {
	if !c.RequiresManualReview {
		return model.ReviewQueueEntry{}, false
	}
	sev, typ, ok := Severity(c.Outcome)
	if !ok {
		return model.ReviewQueueEntry{}, false
	}
	return p.entry(providerID, runID, typ, sev, c.FlaggedReason, c.AffectedFields, c.ConflictingSources,
		Priority(sev, c.CriticalAffected, c.OverallConfidence)), true
}

// Entries returns the outcome entry followed by one entry per kind of risk
// flag on the classification.
func (p *Prioritizer) Entries(providerID, runID string, c classify.Classification) []model.ReviewQueueEntry {
	var out []model.ReviewQueueEntry
	if e, ok := p.Entry(providerID, runID, c); ok {
		out = append(out, e)
	}
	for _, ri := range riskIssues {
		var descs []string
		critical := make(map[string]bool)
		for _, f := range c.RiskFlags {
			if f.Kind != ri.kind {
				continue
			}
			descs = append(descs, f.Describe())
			if f.Critical {
				critical[f.Field] = true
			}
		}
		if len(descs) == 0 {
			continue
		}
		out = append(out, p.entry(providerID, runID, ri.issue, ri.severity, strings.Join(descs, "; "),
			risk.Fields(c.RiskFlags, ri.kind), nil, Priority(ri.severity, len(critical), c.OverallConfidence)))
	}
	return out
}

func (p *Prioritizer) entry(providerID, runID string, typ model.IssueType, sev model.IssueSeverity, desc string, fields, sources []string, priority int) model.ReviewQueueEntry {
	now := time.Now
	if p != nil && p.Now != nil {
		now = p.Now
	}
	ts := now().UTC()
	return model.ReviewQueueEntry{
		ID:                 uuid.NewString(),
		ProviderID:         providerID,
		RunID:              runID,
		IssueType:          typ,
		IssueSeverity:      sev,
		IssueDescription:   desc,
		AffectedFields:     append([]string(nil), fields...),
		ConflictingSources: append([]string(nil), sources...),
		PriorityScore:      priority,
		ReviewStatus:       model.ReviewPending,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
}

// Less orders entries by priority descending, then creation time ascending,
// then insertion sequence ascending.
func Less(a, b model.ReviewQueueEntry) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// Sort orders entries in queue order. The sort is stable.
func Sort(entries []model.ReviewQueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}
