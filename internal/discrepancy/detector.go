// Package discrepancy flags fields whose sources disagree materially.
package discrepancy

import (
	"fmt"
	"strings"

	"github.com/sells-group/provider-validator/internal/model"
)

// Reason explains why a field was flagged.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonPrimaryConflict Reason = "primary_conflict"
	ReasonNarrowMargin    Reason = "narrow_margin"
)

// Competitor is one competing value kept for the audit trail.
type Competitor struct {
	Value      string   `json:"value"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
	Primary    bool     `json:"primary"`
}

// Result is the detector's annotation for one field.
type Result struct {
	Field     string       `json:"field"`
	Flagged   bool         `json:"flagged"`
	Reason    Reason       `json:"reason,omitempty"`
	Gap       float64      `json:"gap"`
	Competing []Competitor `json:"competing,omitempty"`
}

// ConflictingSources returns the distinct source names behind the competing
// values, in candidate order.
func (r Result) ConflictingSources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.Competing {
		for _, s := range c.Sources {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Describe renders a one-line audit message, or "" when not flagged.
func (r Result) Describe() string {
	if !r.Flagged {
		return ""
	}
	vals := make([]string, 0, len(r.Competing))
	for _, c := range r.Competing {
		vals = append(vals, fmt.Sprintf("%q (%.2f, %s)", c.Value, c.Confidence, strings.Join(c.Sources, "+")))
	}
	switch r.Reason {
	case ReasonPrimaryConflict:
		return fmt.Sprintf("%s: primary sources disagree: %s", r.Field, strings.Join(vals, " vs "))
	default:
		return fmt.Sprintf("%s: top candidates within %.2f: %s", r.Field, r.Gap, strings.Join(vals, " vs "))
	}
}

// Detector compares candidate values for a field. Its zero value flags only
// primary-source conflicts.
type Detector struct {
	Margin float64
}

// New returns a Detector with the given materiality margin.
func New(margin float64) Detector {
	return Detector{Margin: margin}
}

// Detect inspects the full candidate set of a resolution, not only the
// winner. A field is flagged when at least two distinct values are supported
// and either two of them are backed by primary sources, or the gap between
// the top two is below the margin. Detect never modifies res.
func (d Detector) Detect(res model.FieldResolution) Result {
	out := Result{Field: res.FieldName}
	cands := res.Candidates
	if len(cands) < 2 {
		return out
	}
	out.Gap = cands[0].Confidence - cands[1].Confidence

	var primaries []model.Candidate
	for _, c := range cands {
		if c.HasPrimary && c.Support > 0 {
			primaries = append(primaries, c)
		}
	}

	switch {
	case len(primaries) >= 2:
		out.Flagged = true
		out.Reason = ReasonPrimaryConflict
		out.Competing = competitors(primaries)
	case cands[1].Support > 0 && out.Gap < d.Margin:
		out.Flagged = true
		out.Reason = ReasonNarrowMargin
		out.Competing = competitors(cands[:2])
	}
	return out
}

// Apply runs Detect over every resolution, sets each resolution's
// Discrepancy flag, and returns the flagged results keyed by field.
func (d Detector) Apply(resolutions []model.FieldResolution) map[string]Result {
	flagged := make(map[string]Result)
	for i := range resolutions {
		r := d.Detect(resolutions[i])
		resolutions[i].Discrepancy = r.Flagged
		if r.Flagged {
			flagged[r.Field] = r
		}
	}
	return flagged
}

func competitors(cands []model.Candidate) []Competitor {
	out := make([]Competitor, 0, len(cands))
	for _, c := range cands {
		out = append(out, Competitor{
			Value:      c.Value,
			Confidence: c.Confidence,
			Sources:    append([]string(nil), c.Sources...),
			Primary:    c.HasPrimary,
		})
	}
	return out
}
