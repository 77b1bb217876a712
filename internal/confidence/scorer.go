package confidence

import (
	"math"
	"time"

	"github.com/sells-group/provider-validator/internal/model"
)

// Scorer turns one evidence tuple into the probability that its value is
// correct. Implementations must be pure so aggregation stays idempotent.
type Scorer interface {
	Score(e model.EvidenceTuple) float64
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(e model.EvidenceTuple) float64

// Score calls f(e).
func (f ScorerFunc) Score(e model.EvidenceTuple) float64 {
	return f(e)
}

// WeightScorer trusts the declared source weight as-is.
type WeightScorer struct{}

// Score returns the clamped source weight.
func (WeightScorer) Score(e model.EvidenceTuple) float64 {
	return clamp01(e.SourceWeight)
}

// DecayScorer ages source weights with an exponential half-life measured
// against a fixed reference time.
type DecayScorer struct {
	Decay model.DecayConfig
	Now   time.Time
}

// Score computes max(floor, weight * 2^(-ageDays / halfLifeDays)). Evidence
// observed at or after Now keeps its full weight; the floor never raises a
// weight above its declared value.
func (s DecayScorer) Score(e model.EvidenceTuple) float64 {
	w := clamp01(e.SourceWeight)
	if w <= 0 {
		return 0
	}
	if s.Decay.HalfLifeDays <= 0 || e.ObservedAt.IsZero() {
		return w
	}

	ageDays := s.Now.Sub(e.ObservedAt).Hours() / 24
	if ageDays <= 0 {
		return w
	}

	decayed := w * math.Pow(2, -ageDays/float64(s.Decay.HalfLifeDays))
	if decayed < s.Decay.Floor {
		return math.Min(s.Decay.Floor, w)
	}
	return decayed
}

// NewScorer returns a DecayScorer when decay is configured and a
// WeightScorer otherwise.
func NewScorer(decay model.DecayConfig, now time.Time) Scorer {
	if decay.HalfLifeDays > 0 {
		return DecayScorer{Decay: decay, Now: now}
	}
	return WeightScorer{}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
