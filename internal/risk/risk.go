// Package risk scans resolved provider fields for values that need review
// however confident the sources are, such as placeholder phone numbers or
// an expired license.
package risk

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-validator/internal/confidence"
	"github.com/sells-group/provider-validator/internal/model"
)

// Kind classifies a risk flag.
type Kind string

const (
	KindSuspiciousPattern Kind = "suspicious_pattern"
	KindExpired           Kind = "expired_license"
)

// Flag is one risk finding on a resolved field value.
type Flag struct {
	Field    string `json:"field"`
	Kind     Kind   `json:"kind"`
	Value    string `json:"value"`
	Pattern  string `json:"pattern,omitempty"`
	Critical bool   `json:"critical"`
}

// Describe renders the flag for a review description.
func (f Flag) Describe() string {
	if f.Kind == KindExpired {
		return fmt.Sprintf("%s: expired on %s", f.Field, f.Value)
	}
	return fmt.Sprintf("%s: suspicious value %q matches %s", f.Field, f.Value, f.Pattern)
}

type rule struct {
	source string
	re     *regexp.Regexp
}

// Detector holds the compiled patterns of one run configuration.
type Detector struct {
	patterns map[string][]rule
	expiry   map[string]bool
	now      time.Time
}

// New compiles cfg's patterns. Values dated before now count as expired.
func New(cfg model.RunConfig, now time.Time) (*Detector, error) {
	d := &Detector{
		patterns: make(map[string][]rule, len(cfg.SuspiciousPatterns)),
		expiry:   make(map[string]bool, len(cfg.ExpiryFields)),
		now:      now.UTC(),
	}
	for field, patterns := range cfg.SuspiciousPatterns {
		for _, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, eris.Wrapf(err, "risk: compile pattern %q for %s", p, field)
			}
			d.patterns[field] = append(d.patterns[field], rule{source: p, re: re})
		}
	}
	for _, f := range cfg.ExpiryFields {
		d.expiry[f] = true
	}
	return d, nil
}

// Scan returns the flags raised by resolved values, ordered by field then
// kind. Unresolved fields and unparseable expiry dates raise nothing. At
// most one pattern flag is raised per field.
func (d *Detector) Scan(resolutions []model.FieldResolution) []Flag {
	if d == nil {
		return nil
	}
	var flags []Flag
	for _, r := range resolutions {
		if !r.Resolved() {
			continue
		}
		v := *r.ResolvedValue
		for _, ru := range d.patterns[r.FieldName] {
			if ru.re.MatchString(v) {
				flags = append(flags, Flag{Field: r.FieldName, Kind: KindSuspiciousPattern, Value: v, Pattern: ru.source, Critical: r.Critical})
				break
			}
		}
		if d.expiry[r.FieldName] {
			if at, ok := confidence.ParseDate(v); ok && at.Before(d.now) {
				flags = append(flags, Flag{Field: r.FieldName, Kind: KindExpired, Value: v, Critical: r.Critical})
			}
		}
	}
	sort.SliceStable(flags, func(i, j int) bool {
		if flags[i].Field != flags[j].Field {
			return flags[i].Field < flags[j].Field
		}
		return flags[i].Kind < flags[j].Kind
	})
	return flags
}

// Fields returns the sorted, distinct fields of flags of the given kind.
func Fields(flags []Flag, kind Kind) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range flags {
		if f.Kind == kind && !seen[f.Field] {
			seen[f.Field] = true
			out = append(out, f.Field)
		}
	}
	sort.Strings(out)
	return out
}
