// Package monitoring watches validation run health and review backlog and
// raises alerts when configured thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-validator/internal/model"
	"github.com/sells-group/provider-validator/internal/store"
)

const (
	runScanLimit   = 10000
	reviewPageSize = 1000
)

// MetricsSnapshot holds a point-in-time view of engine health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	RunsPending   int     `json:"runs_pending"`
	RunFailRate   float64 `json:"run_fail_rate"`

	// Provider metrics summed over runs in the window.
	ProvidersProcessed int64   `json:"providers_processed"`
	ProvidersFailed    int64   `json:"providers_failed"`
	ProvidersFlagged   int64   `json:"providers_flagged"`
	ProviderFailRate   float64 `json:"provider_fail_rate"`
	ProvidersScored    int64   `json:"providers_scored"`
	AvgConfidence      float64 `json:"avg_confidence"`
	EvidenceDiscarded  int64   `json:"evidence_discarded"`

	// Review queue backlog (not windowed).
	OpenReviews      int `json:"open_reviews"`
	EscalatedReviews int `json:"escalated_reviews"`
	CriticalReviews  int `json:"critical_reviews"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the subset of the store the collector reads.
type Source interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.ValidationRun, error)
	ListReviewQueue(ctx context.Context, filter store.ReviewFilter) ([]model.ReviewQueueEntry, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot of engine metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.src.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        runScanLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var confidenceSum float64
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		case model.RunStatusPending:
			snap.RunsPending++
		}
		snap.ProvidersProcessed += r.ProvidersProcessed
		snap.ProvidersFailed += r.ProvidersFailed
		snap.ProvidersFlagged += r.ProvidersFlagged
		snap.ProvidersScored += r.ProvidersScored
		snap.EvidenceDiscarded += r.EvidenceDiscarded
		confidenceSum += r.ConfidenceSum
	}

	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.ProvidersProcessed > 0 {
		snap.ProviderFailRate = float64(snap.ProvidersFailed) / float64(snap.ProvidersProcessed)
	}
	if snap.ProvidersScored > 0 {
		snap.AvgConfidence = confidenceSum / float64(snap.ProvidersScored)
	}

	for offset := 0; ; offset += reviewPageSize {
		page, err := c.src.ListReviewQueue(ctx, store.ReviewFilter{
			OpenOnly: true,
			Limit:    reviewPageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list open reviews")
		}
		for _, e := range page {
			snap.OpenReviews++
			if e.ReviewStatus == model.ReviewEscalated {
				snap.EscalatedReviews++
			}
			if e.IssueSeverity == model.SeverityCritical {
				snap.CriticalReviews++
			}
		}
		if len(page) < reviewPageSize {
			break
		}
	}

	return snap, nil
}
