// Package confidence combines independent evidence tuples into a resolved
// field value and a calibrated confidence score.
package confidence

import (
	"sort"
	"time"

	"github.com/sells-group/provider-validator/internal/model"
)

// TieEpsilon is the confidence gap within which two candidates are treated
// as tied and resolved by recency rather than score.
const TieEpsilon = 0.01

// floatSlack absorbs rounding in products of weights when comparing gaps.
const floatSlack = 1e-9

// FieldPolicy carries the per-field configuration the aggregator needs.
type FieldPolicy struct {
	Kind      model.FieldKind
	Critical  bool
	Threshold float64
}

// PolicyFor builds the policy for field from a run config.
func PolicyFor(cfg model.RunConfig, field string) FieldPolicy {
	return FieldPolicy{
		Kind:      cfg.Kind(field),
		Critical:  cfg.IsCritical(field),
		Threshold: cfg.Threshold(field),
	}
}

// Aggregator resolves one field at a time. It holds no mutable state and is
// safe for concurrent use.
type Aggregator struct {
	scorer        Scorer
	dateTolerance time.Duration
}

// NewAggregator creates an Aggregator. A nil scorer uses the declared source
// weights.
func NewAggregator(scorer Scorer, dateTolerance time.Duration) *Aggregator {
	if scorer == nil {
		scorer = WeightScorer{}
	}
	if dateTolerance < 0 {
		dateTolerance = 0
	}
	return &Aggregator{scorer: scorer, dateTolerance: dateTolerance}
}

// Resolve combines all evidence for one field into a FieldResolution. Empty
// evidence yields a nil value with confidence 0. The result depends only on
// the set of tuples, not their order.
func (a *Aggregator) Resolve(field string, policy FieldPolicy, evidence []model.EvidenceTuple) model.FieldResolution {
	res := model.FieldResolution{
		FieldName: field,
		Critical:  policy.Critical,
		Threshold: policy.Threshold,
	}

	cands := a.Candidates(policy.Kind, evidence)
	if len(cands) == 0 {
		res.BelowThreshold = policy.Threshold > 0
		return res
	}

	w := cands[pickWinner(cands)]
	value := w.Value
	res.ResolvedValue = &value
	res.Confidence = w.Confidence
	res.ContributingSources = w.Sources
	res.Candidates = cands
	res.BelowThreshold = res.Confidence < policy.Threshold
	return res
}

// Candidates groups evidence by normalized value and scores each group with
// independent-evidence combination: 1 - Π(1 - score_i). The result is sorted
// by confidence descending, then by normalized key.
func (a *Aggregator) Candidates(kind model.FieldKind, evidence []model.EvidenceTuple) []model.Candidate {
	groups := a.group(kind, evidence)
	cands := make([]model.Candidate, 0, len(groups))
	for _, g := range groups {
		cands = append(cands, buildCandidate(g))
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Confidence != cands[j].Confidence {
			return cands[i].Confidence > cands[j].Confidence
		}
		return cands[i].Key < cands[j].Key
	})
	return cands
}

type keyed struct {
	e     model.EvidenceTuple
	key   string
	at    time.Time
	score float64
}

func (a *Aggregator) group(kind model.FieldKind, evidence []model.EvidenceTuple) [][]keyed {
	items := make([]keyed, 0, len(evidence))
	for _, e := range evidence {
		k := keyed{e: e, score: clamp01(a.scorer.Score(e))}
		switch kind {
		case model.FieldKindIdentifier:
			k.key = NormalizeIdentifier(e.Value)
		case model.FieldKindDate:
			if t, ok := ParseDate(e.Value); ok {
				k.at = t
				k.key = t.Format("2006-01-02")
			} else {
				k.key = NormalizeText(e.Value)
			}
		default:
			k.key = NormalizeText(e.Value)
		}
		items = append(items, k)
	}

	sort.Slice(items, func(i, j int) bool { return lessKeyed(items[i], items[j]) })

	var groups [][]keyed
	for _, it := range items {
		n := len(groups)
		if n > 0 && a.sameGroup(groups[n-1][0], it) {
			groups[n-1] = append(groups[n-1], it)
			continue
		}
		groups = append(groups, []keyed{it})
	}
	return groups
}

// sameGroup compares it against the first (anchor) member of a group. Dates
// join while within tolerance of the anchor, which keeps clustering stable
// under reordering because items arrive sorted.
func (a *Aggregator) sameGroup(anchor, it keyed) bool {
	if !anchor.at.IsZero() && !it.at.IsZero() {
		return it.at.Sub(anchor.at) <= a.dateTolerance
	}
	if anchor.at.IsZero() && it.at.IsZero() {
		return it.key == anchor.key
	}
	return false
}

func lessKeyed(x, y keyed) bool {
	if !x.at.Equal(y.at) {
		return x.at.Before(y.at)
	}
	if x.key != y.key {
		return x.key < y.key
	}
	if !x.e.ObservedAt.Equal(y.e.ObservedAt) {
		return x.e.ObservedAt.Before(y.e.ObservedAt)
	}
	if x.e.SourceName != y.e.SourceName {
		return x.e.SourceName < y.e.SourceName
	}
	if x.e.Value != y.e.Value {
		return x.e.Value < y.e.Value
	}
	if x.score != y.score {
		return x.score < y.score
	}
	if x.e.IsPrimarySource != y.e.IsPrimarySource {
		return !x.e.IsPrimarySource
	}
	return x.e.ID < y.e.ID
}

func buildCandidate(g []keyed) model.Candidate {
	c := model.Candidate{Key: g[0].key, Support: len(g)}

	miss := 1.0
	best := make(map[string]float64, len(g))
	primaries := make(map[string]bool)
	var rep keyed
	repIsPrimary := false

	for i, it := range g {
		miss *= 1 - it.score
		if s, ok := best[it.e.SourceName]; !ok || it.score > s {
			best[it.e.SourceName] = it.score
		}
		if !it.e.ObservedAt.Before(c.LatestObservedAt) {
			c.LatestObservedAt = it.e.ObservedAt
		}
		if it.e.IsPrimarySource {
			c.HasPrimary = true
			primaries[it.e.SourceName] = true
			if !it.e.ObservedAt.Before(c.LatestPrimaryAt) {
				c.LatestPrimaryAt = it.e.ObservedAt
			}
		}

		// Representative value: the latest primary tuple, else the latest tuple.
		switch {
		case i == 0:
			rep, repIsPrimary = it, it.e.IsPrimarySource
		case it.e.IsPrimarySource && !repIsPrimary:
			rep, repIsPrimary = it, true
		case it.e.IsPrimarySource == repIsPrimary && !it.e.ObservedAt.Before(rep.e.ObservedAt):
			rep = it
		}
	}

	c.Value = rep.e.Value
	c.Confidence = clamp01(1 - miss)

	c.Sources = make([]string, 0, len(best))
	for name := range best {
		c.Sources = append(c.Sources, name)
	}
	sort.Slice(c.Sources, func(i, j int) bool {
		si, sj := best[c.Sources[i]], best[c.Sources[j]]
		if si != sj {
			return si > sj
		}
		return c.Sources[i] < c.Sources[j]
	})

	for name := range primaries {
		c.PrimarySources = append(c.PrimarySources, name)
	}
	sort.Strings(c.PrimarySources)
	return c
}

// pickWinner returns the index of the winning candidate. cands must be sorted
// by confidence descending. Candidates within TieEpsilon of the top are
// resolved by the most recent primary-source tuple, then the most recent
// observation; remaining ties keep sort order.
func pickWinner(cands []model.Candidate) int {
	top := cands[0].Confidence
	best := 0
	for i := 1; i < len(cands); i++ {
		if top-cands[i].Confidence > TieEpsilon+floatSlack {
			break
		}
		if preferTied(cands[i], cands[best]) {
			best = i
		}
	}
	return best
}

func preferTied(a, b model.Candidate) bool {
	if a.HasPrimary != b.HasPrimary {
		return a.HasPrimary
	}
	if a.HasPrimary && !a.LatestPrimaryAt.Equal(b.LatestPrimaryAt) {
		return a.LatestPrimaryAt.After(b.LatestPrimaryAt)
	}
	if !a.LatestObservedAt.Equal(b.LatestObservedAt) {
		return a.LatestObservedAt.After(b.LatestObservedAt)
	}
	return false
}
