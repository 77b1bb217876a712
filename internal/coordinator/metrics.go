package coordinator

import (
	"math"
	"sync/atomic"

	"github.com/sells-group/provider-validator/internal/model"
)

// runMetrics is the in-process aggregate for one run. Workers add deltas
// concurrently; the same deltas are pushed to the store as increments.
type runMetrics struct {
	processed     atomic.Int64
	succeeded     atomic.Int64
	failed        atomic.Int64
	flagged       atomic.Int64
	scored        atomic.Int64
	discrepancies atomic.Int64
	fieldsUpdated atomic.Int64
	discarded     atomic.Int64
	errors        atomic.Int64
	confidenceSum atomic.Uint64 // float64 bits
}

func (m *runMetrics) add(d model.MetricsDelta) {
	m.processed.Add(d.Processed)
	m.succeeded.Add(d.Succeeded)
	m.failed.Add(d.Failed)
	m.flagged.Add(d.Flagged)
	m.scored.Add(d.Scored)
	m.discrepancies.Add(d.Discrepancies)
	m.fieldsUpdated.Add(d.FieldsUpdated)
	m.discarded.Add(d.EvidenceDiscarded)
	m.errors.Add(d.Errors)
	if d.ConfidenceSum == 0 {
		return
	}
	for {
		old := m.confidenceSum.Load()
		next := math.Float64bits(math.Float64frombits(old) + d.ConfidenceSum)
		if m.confidenceSum.CompareAndSwap(old, next) {
			return
		}
	}
}

func (m *runMetrics) snapshot() model.MetricsDelta {
	return model.MetricsDelta{
		Processed:         m.processed.Load(),
		Succeeded:         m.succeeded.Load(),
		Failed:            m.failed.Load(),
		Flagged:           m.flagged.Load(),
		Scored:            m.scored.Load(),
		ConfidenceSum:     math.Float64frombits(m.confidenceSum.Load()),
		Discrepancies:     m.discrepancies.Load(),
		FieldsUpdated:     m.fieldsUpdated.Load(),
		EvidenceDiscarded: m.discarded.Load(),
		Errors:            m.errors.Load(),
	}
}
