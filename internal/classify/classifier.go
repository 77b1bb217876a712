// Package classify derives a provider's validation status from its field
// resolutions. Rules are evaluated in a fixed order and the first match
// wins.
package classify

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sells-group/provider-validator/internal/discrepancy"
	"github.com/sells-group/provider-validator/internal/model"
	"github.com/sells-group/provider-validator/internal/risk"
)

// Outcome names the rule that decided a classification.
type Outcome string

const (
	OutcomeUnresolvedCritical     Outcome = "unresolved_critical"
	OutcomeCriticalDiscrepancy    Outcome = "critical_discrepancy"
	OutcomeLowConfidence          Outcome = "low_confidence"
	OutcomeNonCriticalDiscrepancy Outcome = "non_critical_discrepancy"
	OutcomeClean                  Outcome = "clean"
)

// Classification is the classifier's verdict for one provider.
type Classification struct {
	Status               model.ValidationStatus
	RequiresManualReview bool
	Outcome              Outcome
	OverallConfidence    float64
	FlaggedReason        string
	AffectedFields       []string
	CriticalAffected     int
	ConflictingSources   []string
	RiskFlags            []risk.Flag
}

// Classifier applies the status rules for one run configuration.
type Classifier struct {
	cfg model.RunConfig
}

// New creates a Classifier.
func New(cfg model.RunConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify evaluates, in order:
//
//  1. any critical field unresolved -> failed
//  2. any critical field discrepant or below its threshold, or overall
//     confidence below the global minimum -> flagged
//  3. any non-critical field discrepant -> validated, review required
//  4. otherwise -> validated
//
// Critical fields absent from resolutions count as unresolved.
// discrepancies holds the flagged detector results keyed by field.
func (c *Classifier) Classify(resolutions []model.FieldResolution, discrepancies map[string]discrepancy.Result) Classification {
	byField := make(map[string]model.FieldResolution, len(resolutions))
	for _, r := range resolutions {
		byField[r.FieldName] = r
	}
	all := append([]model.FieldResolution(nil), resolutions...)
	for _, f := range c.cfg.CriticalFields {
		if _, ok := byField[f]; !ok {
			empty := model.FieldResolution{FieldName: f, Critical: true, Threshold: c.cfg.Threshold(f)}
			byField[f] = empty
			all = append(all, empty)
		}
	}

	out := Classification{OverallConfidence: OverallConfidence(all, c.cfg)}
	discrepant := func(f string) bool {
		if d, ok := discrepancies[f]; ok && d.Flagged {
			return true
		}
		return byField[f].Discrepancy
	}

	// Rule 1.
	var unresolved []string
	for _, f := range c.cfg.CriticalFields {
		if !byField[f].Resolved() {
			unresolved = append(unresolved, f)
		}
	}
	if len(unresolved) > 0 {
		return c.finish(out, model.ValidationStatusFailed, OutcomeUnresolvedCritical, unresolved, discrepancies,
			fmt.Sprintf("critical field unresolved: %s", strings.Join(sorted(unresolved), ", ")))
	}

	// Rule 2.
	var critDiscrepant, critLow []string
	for _, f := range c.cfg.CriticalFields {
		switch {
		case discrepant(f):
			critDiscrepant = append(critDiscrepant, f)
		case byField[f].Confidence < c.cfg.Threshold(f):
			critLow = append(critLow, f)
		}
	}
	if len(critDiscrepant) > 0 {
		reasons := make([]string, 0, len(critDiscrepant))
		for _, f := range sorted(critDiscrepant) {
			if d, ok := discrepancies[f]; ok {
				reasons = append(reasons, d.Describe())
			} else {
				reasons = append(reasons, f+": sources disagree")
			}
		}
		return c.finish(out, model.ValidationStatusFlagged, OutcomeCriticalDiscrepancy, critDiscrepant, discrepancies,
			"critical field discrepancy: "+strings.Join(reasons, "; "))
	}
	if len(critLow) > 0 || out.OverallConfidence < c.cfg.GlobalMinimumConfidence {
		affected := critLow
		for _, r := range all {
			if !r.Critical && r.Resolved() && r.Confidence < c.cfg.Threshold(r.FieldName) {
				affected = append(affected, r.FieldName)
			}
		}
		reason := fmt.Sprintf("overall confidence %.2f below minimum %.2f", out.OverallConfidence, c.cfg.GlobalMinimumConfidence)
		if len(critLow) > 0 {
			reason = fmt.Sprintf("critical field below threshold: %s", strings.Join(sorted(critLow), ", "))
		}
		return c.finish(out, model.ValidationStatusFlagged, OutcomeLowConfidence, affected, nil, reason)
	}

	// Rule 3.
	var soft []string
	for _, r := range all {
		if !c.cfg.IsCritical(r.FieldName) && discrepant(r.FieldName) {
			soft = append(soft, r.FieldName)
		}
	}
	if len(soft) > 0 {
		return c.finish(out, model.ValidationStatusValidated, OutcomeNonCriticalDiscrepancy, soft, discrepancies,
			fmt.Sprintf("non-critical discrepancy: %s", strings.Join(sorted(soft), ", ")))
	}

	// Rule 4.
	out.Status = model.ValidationStatusValidated
	out.Outcome = OutcomeClean
	return out
}

// Annotate attaches risk flags to a classification. Flags require manual
// review and extend the flagged reason but never change the status.
func (c *Classifier) Annotate(out Classification, flags []risk.Flag) Classification {
	if len(flags) == 0 {
		return out
	}
	out.RiskFlags = append([]risk.Flag(nil), flags...)
	out.RequiresManualReview = true
	descs := make([]string, 0, len(flags))
	for _, f := range flags {
		descs = append(descs, f.Describe())
	}
	reason := "risk: " + strings.Join(descs, "; ")
	if out.FlaggedReason != "" {
		reason = out.FlaggedReason + "; " + reason
	}
	out.FlaggedReason = reason
	return out
}

func (c *Classifier) finish(out Classification, status model.ValidationStatus, outcome Outcome, fields []string, discrepancies map[string]discrepancy.Result, reason string) Classification {
	out.Status = status
	out.Outcome = outcome
	out.RequiresManualReview = true
	out.FlaggedReason = reason
	out.AffectedFields = sorted(fields)
	for _, f := range out.AffectedFields {
		if c.cfg.IsCritical(f) {
			out.CriticalAffected++
		}
	}

	seen := make(map[string]bool)
	for _, f := range out.AffectedFields {
		d, ok := discrepancies[f]
		if !ok {
			continue
		}
		for _, s := range d.ConflictingSources() {
			if !seen[s] {
				seen[s] = true
				out.ConflictingSources = append(out.ConflictingSources, s)
			}
		}
	}
	return out
}

// OverallConfidence is the weighted mean of field confidences, with critical
// fields weighted by cfg.CriticalFieldWeight. It returns 0 for no fields.
func OverallConfidence(resolutions []model.FieldResolution, cfg model.RunConfig) float64 {
	critWeight := cfg.CriticalFieldWeight
	if critWeight <= 0 || math.IsNaN(critWeight) {
		critWeight = 1
	}
	var sum, weights float64
	for _, r := range resolutions {
		w := 1.0
		if r.Critical || cfg.IsCritical(r.FieldName) {
			w = critWeight
		}
		sum += w * r.Confidence
		weights += w
	}
	if weights == 0 {
		return 0
	}
	v := sum / weights
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
